package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dsl-ob-poc/internal/abac"
)

// ViewCache is the cached read-optimized view the compiler consults
// for frequent FQN lookups: FQN -> {object_type, status,
// governance_tier, trust_class, pii, classification}. Rebuild
// repopulates it from a snapshot set; Publisher.Publish does not call
// Rebuild, so a publish alone leaves the cache as it was. BuildFileView
// produces a file-loadable snapshot (a FileView, searched with Lookup)
// so a compiler can run against it without a database.
type ViewCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewViewCache wraps a Redis client (or a miniredis-backed client in
// tests) as the registry's active-set cache.
func NewViewCache(rdb *redis.Client, snapshotSetID string, ttl time.Duration) *ViewCache {
	return &ViewCache{rdb: rdb, prefix: "regview:" + snapshotSetID + ":", ttl: ttl}
}

func (c *ViewCache) key(objectType ObjectType, fqn string) string {
	return fmt.Sprintf("%s%s:%s", c.prefix, objectType, fqn)
}

// Put caches one FQN's summary entry.
func (c *ViewCache) Put(ctx context.Context, e CachedViewEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(e.ObjectType, e.FQN), b, c.ttl).Err()
}

// Get looks up a cached entry by (object_type, fqn).
func (c *ViewCache) Get(ctx context.Context, objectType ObjectType, fqn string) (CachedViewEntry, bool, error) {
	b, err := c.rdb.Get(ctx, c.key(objectType, fqn)).Bytes()
	if err == redis.Nil {
		return CachedViewEntry{}, false, nil
	}
	if err != nil {
		return CachedViewEntry{}, false, err
	}
	var e CachedViewEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return CachedViewEntry{}, false, err
	}
	return e, true, nil
}

// Rebuild loads every snapshot in snapshotSetID into the cache and
// returns how many entries it wrote. Nothing in Publisher calls it.
func Rebuild(ctx context.Context, store Store, cache *ViewCache, snapshotSetID string) (int, error) {
	snaps, err := store.ListSnapshots(ctx, snapshotSetID)
	if err != nil {
		return 0, fmt.Errorf("listing snapshots for %s: %w", snapshotSetID, err)
	}
	for _, s := range snaps {
		entry := CachedViewEntry{
			FQN:            s.FQN(),
			ObjectType:     s.ObjectType,
			Status:         s.Status,
			GovernanceTier: s.GovernanceTier,
			TrustClass:     s.TrustClass,
			PII:            s.SecurityLabel.PII,
			Classification: s.SecurityLabel.Classification,
			SnapshotID:     s.SnapshotID,
		}
		if err := cache.Put(ctx, entry); err != nil {
			return 0, fmt.Errorf("caching entry for %s: %w", entry.FQN, err)
		}
	}
	return len(snaps), nil
}

// FileView is the content-addressed, database-free on-disk
// representation of the cached view: its file representation is
// content-addressed and loadable without a database.
type FileView struct {
	SnapshotSetID string             `json:"snapshot_set_id"`
	ContentHash   string             `json:"content_hash"`
	Entries       []CachedViewEntry  `json:"entries"`
}

// BuildFileView serializes every snapshot in snapshotSetID into a
// FileView, content-addressed over its own entries.
func BuildFileView(ctx context.Context, store Store, snapshotSetID string) (FileView, error) {
	snaps, err := store.ListSnapshots(ctx, snapshotSetID)
	if err != nil {
		return FileView{}, err
	}
	entries := make([]CachedViewEntry, 0, len(snaps))
	for _, s := range snaps {
		entries = append(entries, CachedViewEntry{
			FQN:            s.FQN(),
			ObjectType:     s.ObjectType,
			Status:         s.Status,
			GovernanceTier: s.GovernanceTier,
			TrustClass:     s.TrustClass,
			PII:            s.SecurityLabel.PII,
			Classification: s.SecurityLabel.Classification,
			SnapshotID:     s.SnapshotID,
		})
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return FileView{}, err
	}
	hash := ComputeArtifactHash(string(b))
	return FileView{SnapshotSetID: snapshotSetID, ContentHash: hash, Entries: entries}, nil
}

// Lookup finds an entry by FQN within a loaded FileView, without
// touching Redis or a database.
func (v FileView) Lookup(objectType ObjectType, fqn string) (CachedViewEntry, bool) {
	for _, e := range v.Entries {
		if e.ObjectType == objectType && e.FQN == fqn {
			return e, true
		}
	}
	return CachedViewEntry{}, false
}

// SecurityLabelOf is a convenience accessor building an abac
// SecurityLabel stub from a cached entry's summary fields (full
// jurisdictions/purpose_limitation live only on the full Snapshot; the
// view carries just enough for the compiler's cheap ABAC pre-check).
func (e CachedViewEntry) SecurityLabelOf() abac.SecurityLabel {
	return abac.SecurityLabel{Classification: e.Classification, PII: e.PII}
}
