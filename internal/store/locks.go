package store

import (
	"context"
	"fmt"
)

// PostgresLockManager implements executor.LockManager over
// pg_try_advisory_xact_lock: a transaction-scoped advisory lock that
// Postgres releases automatically on commit or rollback, so (unlike
// MemLockManager) it never needs an explicit ReleaseAll — the executor
// only calls it within a BeginTx'd PostgresStore per runbook step.
type PostgresLockManager struct {
	store *PostgresStore
}

// NewPostgresLockManager binds lock acquisition to an already
// transaction-scoped store (r.BeginTx's return value); acquiring a
// lock outside an open transaction defeats the auto-release guarantee
// and is a caller error, not one this type can detect.
func NewPostgresLockManager(store *PostgresStore) *PostgresLockManager {
	return &PostgresLockManager{store: store}
}

func (l *PostgresLockManager) TryLock(ctx context.Context, key int64) (bool, error) {
	var acquired bool
	if err := l.store.getContext(ctx, &acquired, `SELECT pg_try_advisory_xact_lock($1)`, key); err != nil {
		return false, fmt.Errorf("acquiring advisory lock %d: %w", key, err)
	}
	return acquired, nil
}
