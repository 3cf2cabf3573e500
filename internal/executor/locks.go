package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/runbook"
)

// LockManager is the narrow capability the executor needs for
// write-set serialization: transaction-scoped try-locks keyed by a
// 64-bit hash of "(entity_type, entity_uuid)". The
// Postgres implementation (internal/store) wraps
// pg_try_advisory_xact_lock, which releases automatically on commit
// or rollback; MemLockManager gives the same contract in-process for
// tests.
type LockManager interface {
	TryLock(ctx context.Context, key int64) (bool, error)
}

// LockKey renders the canonical advisory-lock key for one write-set
// member: a 64-bit hash of its "(entity_type \x00 entity_uuid)" key
// material. Two members with the same canonicalized entity type and
// UUID always hash to the same key, the property that makes the lock
// actually serialize concurrent writers.
func LockKey(w runbook.WriteSetMember) int64 {
	return int64(xxhash.Sum64String(w.Key()))
}

// SortedLockKeys deduplicates a step's write-set and returns its lock
// keys in lexicographic order on (entity_type, entity_uuid) — the
// total order that makes cross-step deadlock impossible as long as
// every step acquires its locks in this same order.
func SortedLockKeys(writeSet []runbook.WriteSetMember) []int64 {
	members := make([]runbook.WriteSetMember, len(writeSet))
	copy(members, writeSet)
	sort.Slice(members, func(i, j int) bool { return members[i].Key() < members[j].Key() })

	seen := make(map[string]bool, len(members))
	keys := make([]int64, 0, len(members))
	for _, m := range members {
		if seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		keys = append(keys, LockKey(m))
	}
	return keys
}

// AcquireAll acquires every key in order, retrying each with a short
// backoff on contention before giving up. On failure it reports
// LockContention naming how many keys it had already acquired, so the
// caller can include that in its diagnostic without needing to
// release anything itself (the manager's locks are transaction-scoped
// and release on the caller's own commit/rollback).
func AcquireAll(ctx context.Context, lm LockManager, keys []int64) (acquired int, err error) {
	const (
		maxAttempts  = 5
		backoffStart = 10 * time.Millisecond
	)
	for _, key := range keys {
		ok := false
		backoff := backoffStart
		for attempt := 0; attempt < maxAttempts; attempt++ {
			got, lerr := lm.TryLock(ctx, key)
			if lerr != nil {
				return acquired, lerr
			}
			if got {
				ok = true
				break
			}
			select {
			case <-ctx.Done():
				return acquired, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if !ok {
			return acquired, apperrors.New(apperrors.KindLockContention,
				"lock contention acquiring advisory lock %d after %d attempts (%d already acquired)", key, maxAttempts, acquired)
		}
		acquired++
	}
	return acquired, nil
}

// MemLockManager is an in-process LockManager for tests: a held key
// stays held until Release or ReleaseAll frees it (the executor calls
// ReleaseAll when a step ends), simulating a single logical
// transaction's scope.
type MemLockManager struct {
	mu   sync.Mutex
	held map[int64]bool
}

// NewMemLockManager creates an empty in-memory lock manager.
func NewMemLockManager() *MemLockManager {
	return &MemLockManager{held: make(map[int64]bool)}
}

func (m *MemLockManager) TryLock(_ context.Context, key int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

// Release frees a held key, simulating the transaction commit/abort
// that releases a real advisory lock.
func (m *MemLockManager) Release(key int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
}

// ReleaseAll frees every key, the shape an executor calls at the end
// of a step's enclosing transaction.
func (m *MemLockManager) ReleaseAll(keys []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.held, k)
	}
}
