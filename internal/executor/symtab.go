package executor

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/runbook"
)

// SymbolTable is the execution-time binding context: the session's
// compile-time entity bindings, extended as steps produce new UUIDs.
// Symbol refs resolve against this table, the compile-time binding
// context extended with runtime UUIDs.
type SymbolTable struct {
	mu     sync.RWMutex
	values map[string]uuid.UUID
}

// NewSymbolTable seeds a table from a sealed runbook's envelope
// entity bindings.
func NewSymbolTable(bindings []runbook.EntityBinding) *SymbolTable {
	t := &SymbolTable{values: make(map[string]uuid.UUID, len(bindings))}
	for _, b := range bindings {
		t.values[b.Name] = b.UUID
	}
	return t
}

// Bind records a runtime-produced UUID under name, overwriting any
// prior binding the way a re-executed resume would.
func (t *SymbolTable) Bind(name string, id uuid.UUID) {
	if name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[name] = id
}

// Lookup resolves a bound symbol name.
func (t *SymbolTable) Lookup(name string) (uuid.UUID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.values[name]
	return id, ok
}

// ResolveArgs resolves one step's argument map against the table: a
// value beginning with "@" is a symbol ref and is replaced by the
// bound UUID's string form; anything else passes through as a literal
// verbatim (lower.go's renderValue already rendered literals to their
// canonical string form at compile time).
func (t *SymbolTable) ResolveArgs(args map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(args))
	for k, v := range args {
		if !strings.HasPrefix(v, "@") {
			resolved[k] = v
			continue
		}
		name := strings.TrimPrefix(v, "@")
		id, ok := t.Lookup(name)
		if !ok {
			return nil, apperrors.New(apperrors.KindUndefinedSymbol, "undefined symbol %q at execution time", name)
		}
		resolved[k] = id.String()
	}
	return resolved, nil
}
