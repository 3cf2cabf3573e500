package compiler

import (
	"context"
	"fmt"

	"dsl-ob-poc/internal/registry"
)

// MapResolver is a fixed, in-memory ContractResolver, the shape unit
// tests and a file-loaded offline compile use.
type MapResolver struct {
	contracts map[string]*VerbContract
}

// NewMapResolver builds a MapResolver from already-parsed contracts.
func NewMapResolver(contracts ...*VerbContract) *MapResolver {
	m := &MapResolver{contracts: make(map[string]*VerbContract, len(contracts))}
	for _, c := range contracts {
		m.contracts[c.FQN] = c
	}
	return m
}

func (m *MapResolver) ResolveVerb(fqn string) (*VerbContract, bool, error) {
	c, ok := m.contracts[fqn]
	return c, ok, nil
}

// StoreResolver resolves verb contracts live against a
// registry.Store's active snapshot set, the production path (no
// caching -- layer a registry.ViewCache-backed resolver in front of it
// when request volume warrants it).
type StoreResolver struct {
	store         registry.Store
	snapshotSetID string
	ctx           context.Context
}

// NewStoreResolver binds a StoreResolver to one snapshot set.
func NewStoreResolver(ctx context.Context, store registry.Store, snapshotSetID string) *StoreResolver {
	return &StoreResolver{store: store, snapshotSetID: snapshotSetID, ctx: ctx}
}

func (r *StoreResolver) ResolveVerb(fqn string) (*VerbContract, bool, error) {
	snap, ok, err := r.store.GetSnapshot(r.ctx, r.snapshotSetID, registry.ObjectVerbContract, fqn)
	if err != nil {
		return nil, false, fmt.Errorf("looking up verb contract %q: %w", fqn, err)
	}
	if !ok {
		return nil, false, nil
	}
	contract, err := ParseVerbContract(snap)
	if err != nil {
		return nil, false, err
	}
	return contract, true, nil
}
