package cli

import (
	"sync"

	"dsl-ob-poc/internal/session"
)

// SessionRegistry resolves a session.Session by id for the HTTP API,
// lazily creating one pinned to the currently active snapshot set on
// first use. CLI subcommands construct a fresh Session per invocation
// instead; this is only needed where a session id spans multiple
// requests.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*session.Session)}
}

// Resolve returns the session for id, creating one pinned to
// snapshotSetID if none exists yet.
func (r *SessionRegistry) Resolve(id, snapshotSetID string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		return sess
	}
	sess := session.New(id, snapshotSetID)
	r.sessions[id] = sess
	return sess
}
