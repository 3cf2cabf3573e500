package executor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/runbook"
)

// Invocation is what a custom op receives: resolved arguments (symbol
// refs already substituted with their runtime UUIDs), the acting
// principal, and enough step identity to emit audit events or park.
// The spec's "{ args, context, db_tx }" triple; db_tx itself is
// whatever the caller's ctx already carries (a *sqlx.Tx in the
// Postgres wiring), never threaded through this struct directly since
// verbs are statically registered at process startup and close over
// their own storage dependencies instead.
type Invocation struct {
	Ctx       context.Context
	RunbookID runbook.Id
	StepID    uuid.UUID
	VerbFQN   string
	Args      map[string]string
	Actor     abac.ActorContext
	Symbols   *SymbolTable
}

// VerbFunc is one custom op's implementation.
type VerbFunc func(Invocation) (Outcome, error)

// Registry is the static, process-startup-populated custom-op
// dispatch table: verbs are registered once at startup, with no
// plugin sandboxing or dynamic loading.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]VerbFunc
}

// NewRegistry creates an empty verb registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]VerbFunc)}
}

// Register binds a verb FQN to its implementation. Re-registering an
// FQN replaces the prior binding, the shape a process's startup
// sequence relies on for test doubles.
func (r *Registry) Register(fqn string, fn VerbFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[fqn] = fn
}

// Lookup resolves a verb FQN to its implementation.
func (r *Registry) Lookup(fqn string) (VerbFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[fqn]
	return fn, ok
}
