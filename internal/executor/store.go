package executor

import (
	"context"
	"sync"

	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/runbook"
)

// RunbookStore is the narrow persistence capability the executor
// needs for sealed runbooks: load by id, and persist Status
// transitions as execution advances. Mirrors registry.Store's
// interface-plus-MemStore split; internal/store provides the
// Postgres-backed implementation.
type RunbookStore interface {
	GetRunbook(ctx context.Context, id runbook.Id) (*runbook.CompiledRunbook, bool, error)
	SaveRunbook(ctx context.Context, rb *runbook.CompiledRunbook) error
}

// MemRunbookStore is an in-memory RunbookStore, the default for unit
// tests and for a compiler/executor round-trip run without a
// database.
type MemRunbookStore struct {
	mu       sync.RWMutex
	runbooks map[string]*runbook.CompiledRunbook
}

// NewMemRunbookStore creates an empty in-memory RunbookStore.
func NewMemRunbookStore() *MemRunbookStore {
	return &MemRunbookStore{runbooks: make(map[string]*runbook.CompiledRunbook)}
}

func (m *MemRunbookStore) GetRunbook(_ context.Context, id runbook.Id) (*runbook.CompiledRunbook, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rb, ok := m.runbooks[id.String()]
	if !ok {
		return nil, false, nil
	}
	cp := *rb
	return &cp, true, nil
}

func (m *MemRunbookStore) SaveRunbook(_ context.Context, rb *runbook.CompiledRunbook) error {
	if rb == nil {
		return apperrors.New(apperrors.KindInvalidInput, "cannot save a nil runbook")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rb
	m.runbooks[rb.Id.String()] = &cp
	return nil
}
