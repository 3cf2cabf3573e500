package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/durability"
)

// This file adapts PostgresStore into a durability.Store, reusing the
// same getContext/selectContext/execContext transaction-routing
// helpers the registry.Store implementation uses, against the
// parked_tokens/invocation_records/correlations/job_frames tables
// "00001_init_registry.sql" creates.

type parkedTokenRow struct {
	Token          string     `db:"token"`
	RunbookID      string     `db:"runbook_id"`
	StepIndex      int        `db:"step_index"`
	CorrelationKey string     `db:"correlation_key"`
	ParkedAt       time.Time  `db:"parked_at"`
	TimeoutAt      *time.Time `db:"timeout_at"`
	Status         string     `db:"status"`
}

func (row parkedTokenRow) toToken() (durability.ParkedToken, error) {
	rid, err := uuid.Parse(row.RunbookID)
	if err != nil {
		return durability.ParkedToken{}, fmt.Errorf("parsing runbook_id %s: %w", row.RunbookID, err)
	}
	return durability.ParkedToken{
		Token: row.Token, RunbookID: rid, StepIndex: row.StepIndex,
		CorrelationKey: row.CorrelationKey, ParkedAt: row.ParkedAt,
		TimeoutAt: row.TimeoutAt, Status: durability.ParkedStatus(row.Status),
	}, nil
}

func (r *PostgresStore) PutParkedToken(ctx context.Context, t durability.ParkedToken) error {
	status := t.Status
	if status == "" {
		status = durability.ParkedActive
	}
	parkedAt := t.ParkedAt
	if parkedAt.IsZero() {
		parkedAt = time.Now()
	}
	_, err := r.execContext(ctx, `
		INSERT INTO "dsl-ob-poc".parked_tokens (token, runbook_id, step_index, correlation_key, parked_at, timeout_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (token) DO UPDATE SET status = EXCLUDED.status`,
		t.Token, t.RunbookID.String(), t.StepIndex, t.CorrelationKey, parkedAt, t.TimeoutAt, status,
	)
	if err != nil {
		return fmt.Errorf("inserting parked token %s: %w", t.Token, err)
	}
	return nil
}

func (r *PostgresStore) GetParkedToken(ctx context.Context, token string) (durability.ParkedToken, bool, error) {
	var row parkedTokenRow
	err := r.getContext(ctx, &row, `
		SELECT token, runbook_id, step_index, correlation_key, parked_at, timeout_at, status
		FROM "dsl-ob-poc".parked_tokens WHERE token = $1`, token)
	if err == sql.ErrNoRows {
		return durability.ParkedToken{}, false, nil
	}
	if err != nil {
		return durability.ParkedToken{}, false, fmt.Errorf("loading parked token %s: %w", token, err)
	}
	t, err := row.toToken()
	return t, err == nil, err
}

func (r *PostgresStore) GetParkedTokenByCorrelationKey(ctx context.Context, correlationKey string) (durability.ParkedToken, bool, error) {
	var row parkedTokenRow
	err := r.getContext(ctx, &row, `
		SELECT token, runbook_id, step_index, correlation_key, parked_at, timeout_at, status
		FROM "dsl-ob-poc".parked_tokens WHERE correlation_key = $1`, correlationKey)
	if err == sql.ErrNoRows {
		return durability.ParkedToken{}, false, nil
	}
	if err != nil {
		return durability.ParkedToken{}, false, fmt.Errorf("loading parked token for correlation %s: %w", correlationKey, err)
	}
	t, err := row.toToken()
	return t, err == nil, err
}

func (r *PostgresStore) UpdateParkedTokenStatus(ctx context.Context, token string, status durability.ParkedStatus) error {
	res, err := r.execContext(ctx, `UPDATE "dsl-ob-poc".parked_tokens SET status = $1 WHERE token = $2`, string(status), token)
	if err != nil {
		return fmt.Errorf("updating parked token %s: %w", token, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("parked token %s not found", token)
	}
	return nil
}

func (r *PostgresStore) ListExpiredParkedTokens(ctx context.Context, asOf int64) ([]durability.ParkedToken, error) {
	var rows []parkedTokenRow
	err := r.selectContext(ctx, &rows, `
		SELECT token, runbook_id, step_index, correlation_key, parked_at, timeout_at, status
		FROM "dsl-ob-poc".parked_tokens
		WHERE status = $1 AND timeout_at IS NOT NULL AND timeout_at <= to_timestamp($2)
		ORDER BY token`, string(durability.ParkedActive), asOf)
	if err != nil {
		return nil, fmt.Errorf("listing expired parked tokens: %w", err)
	}
	out := make([]durability.ParkedToken, 0, len(rows))
	for _, row := range rows {
		t, err := row.toToken()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// PutInvocationRecord inserts the audit-critical record, relying on
// the (task_id, idempotency_key) unique constraint to detect a
// replayed signal: a unique-violation means it was already recorded,
// reported as "not newly inserted" rather than an error.
func (r *PostgresStore) PutInvocationRecord(ctx context.Context, rec durability.InvocationRecord) (bool, error) {
	var errSnap []byte
	if rec.ErrorSnapshot != nil {
		var err error
		errSnap, err = json.Marshal(rec.ErrorSnapshot)
		if err != nil {
			return false, fmt.Errorf("encoding error_snapshot for task %s: %w", rec.TaskID, err)
		}
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	res, err := r.execContext(ctx, `
		INSERT INTO "dsl-ob-poc".invocation_records (task_id, idempotency_key, runbook_id, step_index, outcome, error_snapshot, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (task_id, idempotency_key) DO NOTHING`,
		rec.TaskID, rec.IdempotencyKey, rec.RunbookID.String(), rec.StepIndex, string(rec.Outcome), errSnap, recordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("recording invocation for task %s: %w", rec.TaskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking invocation insert for task %s: %w", rec.TaskID, err)
	}
	return n > 0, nil
}

type correlationRow struct {
	CorrelationKey    string     `db:"correlation_key"`
	ProcessInstanceID *string    `db:"process_instance_id"`
	RunbookID         string     `db:"runbook_id"`
	StepIndex         int        `db:"step_index"`
	ProcessKey        *string    `db:"process_key"`
	Status            string     `db:"status"`
	CreatedAt         time.Time  `db:"created_at"`
	CompletedAt       *time.Time `db:"completed_at"`
}

func (row correlationRow) toCorrelation() (durability.CorrelationRecord, error) {
	rid, err := uuid.Parse(row.RunbookID)
	if err != nil {
		return durability.CorrelationRecord{}, fmt.Errorf("parsing runbook_id %s: %w", row.RunbookID, err)
	}
	c := durability.CorrelationRecord{
		CorrelationKey: row.CorrelationKey, RunbookID: rid, StepIndex: row.StepIndex,
		Status: durability.CorrelationStatus(row.Status), CreatedAt: row.CreatedAt, CompletedAt: row.CompletedAt,
	}
	if row.ProcessInstanceID != nil {
		c.ProcessInstanceID = *row.ProcessInstanceID
	}
	if row.ProcessKey != nil {
		c.ProcessKey = *row.ProcessKey
	}
	return c, nil
}

func (r *PostgresStore) PutCorrelation(ctx context.Context, c durability.CorrelationRecord) error {
	status := c.Status
	if status == "" {
		status = durability.CorrelationActive
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.execContext(ctx, `
		INSERT INTO "dsl-ob-poc".correlations (correlation_key, process_instance_id, runbook_id, step_index, process_key, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (correlation_key) DO NOTHING`,
		c.CorrelationKey, nullableString(c.ProcessInstanceID), c.RunbookID.String(), c.StepIndex,
		nullableString(c.ProcessKey), string(status), createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting correlation %s: %w", c.CorrelationKey, err)
	}
	return nil
}

func (r *PostgresStore) GetCorrelationByProcessInstance(ctx context.Context, processInstanceID string) (durability.CorrelationRecord, bool, error) {
	var row correlationRow
	err := r.getContext(ctx, &row, `
		SELECT correlation_key, process_instance_id, runbook_id, step_index, process_key, status, created_at, completed_at
		FROM "dsl-ob-poc".correlations WHERE process_instance_id = $1`, processInstanceID)
	if err == sql.ErrNoRows {
		return durability.CorrelationRecord{}, false, nil
	}
	if err != nil {
		return durability.CorrelationRecord{}, false, fmt.Errorf("loading correlation for process instance %s: %w", processInstanceID, err)
	}
	c, err := row.toCorrelation()
	return c, err == nil, err
}

func (r *PostgresStore) GetCorrelationByKey(ctx context.Context, correlationKey string) (durability.CorrelationRecord, bool, error) {
	var row correlationRow
	err := r.getContext(ctx, &row, `
		SELECT correlation_key, process_instance_id, runbook_id, step_index, process_key, status, created_at, completed_at
		FROM "dsl-ob-poc".correlations WHERE correlation_key = $1`, correlationKey)
	if err == sql.ErrNoRows {
		return durability.CorrelationRecord{}, false, nil
	}
	if err != nil {
		return durability.CorrelationRecord{}, false, fmt.Errorf("loading correlation %s: %w", correlationKey, err)
	}
	c, err := row.toCorrelation()
	return c, err == nil, err
}

func (r *PostgresStore) UpdateCorrelationStatus(ctx context.Context, correlationKey string, status durability.CorrelationStatus) error {
	var completedAt *time.Time
	if status == durability.CorrelationCompleted || status == durability.CorrelationFailed || status == durability.CorrelationCancelled {
		now := time.Now()
		completedAt = &now
	}
	res, err := r.execContext(ctx, `
		UPDATE "dsl-ob-poc".correlations SET status = $1, completed_at = $2 WHERE correlation_key = $3`,
		string(status), completedAt, correlationKey,
	)
	if err != nil {
		return fmt.Errorf("updating correlation %s: %w", correlationKey, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("correlation %s not found", correlationKey)
	}
	return nil
}

func (r *PostgresStore) ListActiveCorrelations(ctx context.Context) ([]durability.CorrelationRecord, error) {
	var rows []correlationRow
	err := r.selectContext(ctx, &rows, `
		SELECT correlation_key, process_instance_id, runbook_id, step_index, process_key, status, created_at, completed_at
		FROM "dsl-ob-poc".correlations WHERE status = $1 ORDER BY created_at`, string(durability.CorrelationActive))
	if err != nil {
		return nil, fmt.Errorf("listing active correlations: %w", err)
	}
	out := make([]durability.CorrelationRecord, 0, len(rows))
	for _, row := range rows {
		c, err := row.toCorrelation()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *PostgresStore) PutJobFrame(ctx context.Context, f durability.JobFrame) (int64, error) {
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return 0, fmt.Errorf("encoding job frame payload: %w", err)
	}
	enqueuedAt := f.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}
	var id int64
	err = r.getContext(ctx, &id, `
		INSERT INTO "dsl-ob-poc".job_frames (runbook_id, step_index, payload, enqueued_at)
		VALUES ($1,$2,$3,$4) RETURNING id`,
		f.RunbookID.String(), f.StepIndex, payload, enqueuedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting job frame: %w", err)
	}
	return id, nil
}
