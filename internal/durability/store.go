package durability

import (
	"context"
	"sort"
	"sync"

	"dsl-ob-poc/internal/apperrors"
)

// Store is the narrow repository capability set durability needs,
// following the same "abstract storage behind a repository capability
// set" shape registry.Store uses: an in-memory implementation for
// tests, a Postgres-backed implementation (internal/store) for
// production.
type Store interface {
	PutParkedToken(ctx context.Context, t ParkedToken) error
	GetParkedToken(ctx context.Context, token string) (ParkedToken, bool, error)
	GetParkedTokenByCorrelationKey(ctx context.Context, correlationKey string) (ParkedToken, bool, error)
	UpdateParkedTokenStatus(ctx context.Context, token string, status ParkedStatus) error
	ListExpiredParkedTokens(ctx context.Context, asOf int64) ([]ParkedToken, error)

	PutInvocationRecord(ctx context.Context, r InvocationRecord) (bool, error)

	PutCorrelation(ctx context.Context, c CorrelationRecord) error
	GetCorrelationByProcessInstance(ctx context.Context, processInstanceID string) (CorrelationRecord, bool, error)
	GetCorrelationByKey(ctx context.Context, correlationKey string) (CorrelationRecord, bool, error)
	UpdateCorrelationStatus(ctx context.Context, correlationKey string, status CorrelationStatus) error
	ListActiveCorrelations(ctx context.Context) ([]CorrelationRecord, error)

	PutJobFrame(ctx context.Context, f JobFrame) (int64, error)
}

// MemStore is an in-memory Store, safe for concurrent use — the
// default for unit tests, mirroring registry.MemStore.
type MemStore struct {
	mu sync.RWMutex

	parked        map[string]ParkedToken
	invocations   map[string]InvocationRecord // keyed by task_id + idempotency_key
	correlations  map[string]CorrelationRecord // keyed by correlation_key
	byProcessInst map[string]string            // process_instance_id -> correlation_key
	jobFrames     []JobFrame
	nextJobID     int64
}

// NewMemStore creates an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		parked:        make(map[string]ParkedToken),
		invocations:   make(map[string]InvocationRecord),
		correlations:  make(map[string]CorrelationRecord),
		byProcessInst: make(map[string]string),
	}
}

func (m *MemStore) PutParkedToken(_ context.Context, t ParkedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status == "" {
		t.Status = ParkedActive
	}
	m.parked[t.Token] = t
	return nil
}

func (m *MemStore) GetParkedToken(_ context.Context, token string) (ParkedToken, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.parked[token]
	return t, ok, nil
}

func (m *MemStore) GetParkedTokenByCorrelationKey(_ context.Context, correlationKey string) (ParkedToken, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.parked {
		if t.CorrelationKey == correlationKey {
			return t, true, nil
		}
	}
	return ParkedToken{}, false, nil
}

func (m *MemStore) UpdateParkedTokenStatus(_ context.Context, token string, status ParkedStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.parked[token]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "parked token %s not found", token)
	}
	t.Status = status
	m.parked[token] = t
	return nil
}

func (m *MemStore) ListExpiredParkedTokens(_ context.Context, asOf int64) ([]ParkedToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ParkedToken
	for _, t := range m.parked {
		if t.Status != ParkedActive || t.TimeoutAt == nil {
			continue
		}
		if t.TimeoutAt.Unix() <= asOf {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// invocationKey scopes idempotency uniqueness to the task id.
func invocationKey(taskID, idempotencyKey string) string { return taskID + "\x00" + idempotencyKey }

// PutInvocationRecord inserts the record unless one already exists for
// (task_id, idempotency_key), reporting false when it was already
// present so the resume ingress can treat the signal as a no-op replay.
func (m *MemStore) PutInvocationRecord(_ context.Context, r InvocationRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := invocationKey(r.TaskID, r.IdempotencyKey)
	if _, exists := m.invocations[key]; exists {
		return false, nil
	}
	m.invocations[key] = r
	return true, nil
}

func (m *MemStore) PutCorrelation(_ context.Context, c CorrelationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Status == "" {
		c.Status = CorrelationActive
	}
	m.correlations[c.CorrelationKey] = c
	if c.ProcessInstanceID != "" {
		m.byProcessInst[c.ProcessInstanceID] = c.CorrelationKey
	}
	return nil
}

func (m *MemStore) GetCorrelationByProcessInstance(_ context.Context, processInstanceID string) (CorrelationRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.byProcessInst[processInstanceID]
	if !ok {
		return CorrelationRecord{}, false, nil
	}
	c, ok := m.correlations[key]
	return c, ok, nil
}

func (m *MemStore) GetCorrelationByKey(_ context.Context, correlationKey string) (CorrelationRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.correlations[correlationKey]
	return c, ok, nil
}

func (m *MemStore) UpdateCorrelationStatus(_ context.Context, correlationKey string, status CorrelationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.correlations[correlationKey]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "correlation %s not found", correlationKey)
	}
	c.Status = status
	m.correlations[correlationKey] = c
	return nil
}

func (m *MemStore) ListActiveCorrelations(_ context.Context) ([]CorrelationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CorrelationRecord
	for _, c := range m.correlations {
		if c.Status == CorrelationActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) PutJobFrame(_ context.Context, f JobFrame) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID++
	f.ID = m.nextJobID
	m.jobFrames = append(m.jobFrames, f)
	return f.ID, nil
}
