// Package session holds the session binding context: a
// monotonic cursor, an ordered append-only symbol table, an optional
// CBU focus, and the pinned snapshot_set_id a session compiles
// against, generalized from onboarding-DSL conversation state to the
// compile-and-replay binding model.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Binding is one name -> UUID (+ entity type) entry in the symbol
// table.
type Binding struct {
	Name       string
	UUID       uuid.UUID
	EntityType string
}

// Session is the per-conversation compile-time and runtime context.
// All mutation goes through its methods; callers never touch the
// maps directly, so ordering and append-only semantics hold.
type Session struct {
	mu sync.RWMutex

	id            string
	cursor        uint64
	order         []string // symbol insertion order, for deterministic iteration
	symbols       map[string]Binding
	cbuContext    *string
	snapshotSetID string

	startedAt       time.Time
	invocationCount int64
	errorCount      int64
}

// New creates a Session pinned to the given active snapshot_set_id.
func New(id string, snapshotSetID string) *Session {
	return &Session{
		id:            id,
		symbols:       make(map[string]Binding),
		snapshotSetID: snapshotSetID,
		startedAt:     time.Now(),
	}
}

// IncrementInvocations bumps the session's step-invocation counter;
// every successful step increments it.
func (s *Session) IncrementInvocations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invocationCount++
}

// IncrementErrors bumps the session's failed-step counter.
func (s *Session) IncrementErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
}

// Stats returns the counters a session_ended event reports: the
// invocation count, error count, and elapsed duration since the
// session started.
func (s *Session) Stats() (invocations, errors int64, duration time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invocationCount, s.errorCount, time.Since(s.startedAt)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Cursor returns the current session cursor without advancing it.
func (s *Session) Cursor() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// SnapshotSetID returns the registry version this session compiles
// against.
func (s *Session) SnapshotSetID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotSetID
}

// UpgradeSnapshotSet changes the pinned snapshot_set_id. Only an
// explicit session upgrade may call this; ordinary compiles never do.
func (s *Session) UpgradeSnapshotSet(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotSetID = id
}

// CBUContext returns the entity type currently in focus, if any.
func (s *Session) CBUContext() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cbuContext == nil {
		return "", false
	}
	return *s.cbuContext, true
}

// SetCBUContext sets the client business unit currently in focus.
func (s *Session) SetCBUContext(entityType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cbuContext = &entityType
}

// Lookup resolves a symbol name against the session's inherited
// bindings (not the in-flight compile-time bindings of the runbook
// being built, which the compiler tracks separately).
func (s *Session) Lookup(name string) (Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.symbols[name]
	return b, ok
}

// Bindings returns a snapshot of the symbol table in insertion order.
// The returned slice is a copy; mutating it does not affect the
// session.
func (s *Session) Bindings() []Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Binding, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.symbols[name])
	}
	return out
}

// CommitBindings advances the session cursor and merges newBindings
// into the symbol table (a new runbook may shadow prior names).
// Returns the new cursor value, which seals into the sealed
// runbook's ReplayEnvelope.core.
func (s *Session) CommitBindings(newBindings []Binding) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor++
	for _, b := range newBindings {
		if _, exists := s.symbols[b.Name]; !exists {
			s.order = append(s.order, b.Name)
		}
		s.symbols[b.Name] = b
	}
	return s.cursor
}
