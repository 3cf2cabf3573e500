package registry

import (
	"context"
	"sort"
	"sync"

	"dsl-ob-poc/internal/apperrors"
)

// Store is the narrow repository capability set the registry needs:
// snapshot persistence, the active-set pointer, and changeset bundles.
// An in-memory implementation backs unit tests; internal/store
// provides the Postgres-backed implementation used in production.
type Store interface {
	PutSnapshots(ctx context.Context, snaps []Snapshot) error
	GetSnapshot(ctx context.Context, snapshotSetID string, objectType ObjectType, fqn string) (Snapshot, bool, error)
	ListSnapshots(ctx context.Context, snapshotSetID string) ([]Snapshot, error)

	GetActiveSet(ctx context.Context) (ActiveSnapshotSet, bool, error)
	SetActiveSet(ctx context.Context, set ActiveSnapshotSet) error

	PutChangeSet(ctx context.Context, cs ChangeSet) error
	GetChangeSet(ctx context.Context, id string) (ChangeSet, bool, error)
	PutReviewDecision(ctx context.Context, d ReviewDecision) error
}

// MemStore is an in-memory Store, safe for concurrent use. It is the
// default store for tests and for the compiler's own unit tests;
// production wiring uses internal/store's Postgres-backed Store.
type MemStore struct {
	mu         sync.RWMutex
	snapshots  map[string][]Snapshot // keyed by snapshot_set_id
	activeSet  *ActiveSnapshotSet
	changeSets map[string]ChangeSet
}

// NewMemStore creates an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		snapshots:  make(map[string][]Snapshot),
		changeSets: make(map[string]ChangeSet),
	}
}

func (m *MemStore) PutSnapshots(_ context.Context, snaps []Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		if err := s.ValidateInvariants(); err != nil {
			return err
		}
		m.snapshots[s.SnapshotSetID] = append(m.snapshots[s.SnapshotSetID], s)
	}
	return nil
}

func (m *MemStore) GetSnapshot(_ context.Context, snapshotSetID string, objectType ObjectType, fqn string) (Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.snapshots[snapshotSetID] {
		if s.ObjectType == objectType && s.FQN() == fqn {
			return s, true, nil
		}
	}
	return Snapshot{}, false, nil
}

func (m *MemStore) ListSnapshots(_ context.Context, snapshotSetID string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.snapshots[snapshotSetID]))
	copy(out, m.snapshots[snapshotSetID])
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObjectType != out[j].ObjectType {
			return out[i].ObjectType < out[j].ObjectType
		}
		return out[i].ObjectID < out[j].ObjectID
	})
	return out, nil
}

func (m *MemStore) GetActiveSet(_ context.Context) (ActiveSnapshotSet, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeSet == nil {
		return ActiveSnapshotSet{}, false, nil
	}
	return *m.activeSet, true, nil
}

func (m *MemStore) SetActiveSet(_ context.Context, set ActiveSnapshotSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSet = &set
	return nil
}

func (m *MemStore) PutChangeSet(_ context.Context, cs ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs.ID == "" {
		return apperrors.New(apperrors.KindInvalidInput, "changeset id must not be empty")
	}
	m.changeSets[cs.ID] = cs
	return nil
}

func (m *MemStore) GetChangeSet(_ context.Context, id string) (ChangeSet, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.changeSets[id]
	return cs, ok, nil
}

func (m *MemStore) PutReviewDecision(_ context.Context, d ReviewDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.changeSets[d.ChangeSetID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "changeset %s not found", d.ChangeSetID)
	}
	cs.Reviews = append(cs.Reviews, d)
	m.changeSets[d.ChangeSetID] = cs
	return nil
}
