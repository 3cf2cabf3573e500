package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/runbook"
)

type compiledRunbookRow struct {
	RunbookID      string    `db:"runbook_id"`
	SessionID      string    `db:"session_id"`
	Version        uint64    `db:"version"`
	Envelope       []byte    `db:"envelope"`
	Status         string    `db:"status"`
	StatusCursor   int       `db:"status_cursor"`
	ParkReason     *string   `db:"park_reason"`
	CorrelationKey *string   `db:"correlation_key"`
	FailureError   *string   `db:"failure_error"`
	SnapshotSetID  string    `db:"snapshot_set_id"`
	CreatedAt      time.Time `db:"created_at"`
}

type compiledRunbookStepRow struct {
	RunbookID    string `db:"runbook_id"`
	StepIndex    int    `db:"step_index"`
	StepID       string `db:"step_id"`
	VerbFQN      string `db:"verb_fqn"`
	Args         []byte `db:"args"`
	DependsOn    []byte `db:"depends_on"`
	ExecMode     string `db:"execution_mode"`
	WriteSet     []byte `db:"write_set"`
	Sentence     string `db:"sentence"`
	SourceStmtIx int    `db:"source_stmt_ix"`
	AsBinding    string `db:"as_binding"`
}

// GetRunbook loads a sealed CompiledRunbook and its steps, implementing
// executor.RunbookStore against PostgreSQL.
func (r *PostgresStore) GetRunbook(ctx context.Context, id runbook.Id) (*runbook.CompiledRunbook, bool, error) {
	var rr compiledRunbookRow
	err := r.getContext(ctx, &rr, `
		SELECT runbook_id, session_id, version, envelope, status, status_cursor,
			park_reason, correlation_key, failure_error, snapshot_set_id, created_at
		FROM "dsl-ob-poc".compiled_runbooks WHERE runbook_id = $1`, id.String())
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading runbook %s: %w", id, err)
	}

	var envelope runbook.ReplayEnvelope
	if err := json.Unmarshal(rr.Envelope, &envelope); err != nil {
		return nil, false, fmt.Errorf("decoding envelope for %s: %w", id, err)
	}

	var stepRows []compiledRunbookStepRow
	if err := r.selectContext(ctx, &stepRows, `
		SELECT runbook_id, step_index, step_id, verb_fqn, args, depends_on,
			execution_mode, write_set, sentence, source_stmt_ix, as_binding
		FROM "dsl-ob-poc".compiled_runbook_steps
		WHERE runbook_id = $1 ORDER BY step_index`, id.String()); err != nil {
		return nil, false, fmt.Errorf("loading steps for %s: %w", id, err)
	}

	steps := make([]runbook.CompiledStep, 0, len(stepRows))
	for _, sr := range stepRows {
		step, err := sr.toStep()
		if err != nil {
			return nil, false, err
		}
		steps = append(steps, step)
	}

	rb := &runbook.CompiledRunbook{
		Id:            id,
		SessionID:     rr.SessionID,
		Version:       rr.Version,
		Steps:         steps,
		Envelope:      envelope,
		SnapshotSetID: rr.SnapshotSetID,
		CreatedAt:     rr.CreatedAt,
		Status: runbook.Status{
			Kind:   runbook.StatusKind(rr.Status),
			Cursor: rr.StatusCursor,
		},
	}
	if rr.ParkReason != nil {
		rb.Status.ParkReason = *rr.ParkReason
	}
	if rr.CorrelationKey != nil {
		rb.Status.CorrelationKey = *rr.CorrelationKey
	}
	if rr.FailureError != nil {
		rb.Status.FailureError = *rr.FailureError
	}
	return rb, true, nil
}

func (sr compiledRunbookStepRow) toStep() (runbook.CompiledStep, error) {
	stepID, err := uuid.Parse(sr.StepID)
	if err != nil {
		return runbook.CompiledStep{}, fmt.Errorf("parsing step_id %s: %w", sr.StepID, err)
	}
	var args map[string]string
	if err := json.Unmarshal(sr.Args, &args); err != nil {
		return runbook.CompiledStep{}, fmt.Errorf("decoding args for step %s: %w", sr.StepID, err)
	}
	var dependsOnStrs []string
	if err := json.Unmarshal(sr.DependsOn, &dependsOnStrs); err != nil {
		return runbook.CompiledStep{}, fmt.Errorf("decoding depends_on for step %s: %w", sr.StepID, err)
	}
	dependsOn := make([]uuid.UUID, 0, len(dependsOnStrs))
	for _, s := range dependsOnStrs {
		u, err := uuid.Parse(s)
		if err != nil {
			return runbook.CompiledStep{}, fmt.Errorf("parsing dependency id %s: %w", s, err)
		}
		dependsOn = append(dependsOn, u)
	}
	var writeSet []runbook.WriteSetMember
	if err := json.Unmarshal(sr.WriteSet, &writeSet); err != nil {
		return runbook.CompiledStep{}, fmt.Errorf("decoding write_set for step %s: %w", sr.StepID, err)
	}
	return runbook.CompiledStep{
		StepID:               stepID,
		VerbFQN:              sr.VerbFQN,
		Args:                 args,
		DependsOn:            dependsOn,
		ExecutionMode:        runbook.ExecutionMode(sr.ExecMode),
		WriteSet:             writeSet,
		Sentence:             sr.Sentence,
		SourceStatementIndex: sr.SourceStmtIx,
		AsBinding:            sr.AsBinding,
	}, nil
}

// SaveRunbook upserts a CompiledRunbook and replaces its step rows.
// Steps are immutable once sealed, so in practice only Status changes
// after the first save; the delete-then-reinsert is simple and correct
// either way and avoids a second write path for the one-time initial
// persist.
func (r *PostgresStore) SaveRunbook(ctx context.Context, rb *runbook.CompiledRunbook) error {
	envelope, err := json.Marshal(rb.Envelope)
	if err != nil {
		return fmt.Errorf("encoding envelope for %s: %w", rb.Id, err)
	}

	txStore, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer txStore.Rollback()

	_, err = txStore.execContext(ctx, `
		INSERT INTO "dsl-ob-poc".compiled_runbooks (
			runbook_id, session_id, version, envelope, status, status_cursor,
			park_reason, correlation_key, failure_error, snapshot_set_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (runbook_id) DO UPDATE SET
			status = EXCLUDED.status,
			status_cursor = EXCLUDED.status_cursor,
			park_reason = EXCLUDED.park_reason,
			correlation_key = EXCLUDED.correlation_key,
			failure_error = EXCLUDED.failure_error`,
		rb.Id.String(), rb.SessionID, rb.Version, envelope, string(rb.Status.Kind), rb.Status.Cursor,
		nullableString(rb.Status.ParkReason), nullableString(rb.Status.CorrelationKey),
		nullableString(rb.Status.FailureError), rb.SnapshotSetID, rb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting runbook %s: %w", rb.Id, err)
	}

	if _, err := txStore.execContext(ctx, `DELETE FROM "dsl-ob-poc".compiled_runbook_steps WHERE runbook_id = $1`, rb.Id.String()); err != nil {
		return fmt.Errorf("clearing prior steps for %s: %w", rb.Id, err)
	}
	for i, s := range rb.Steps {
		args, err := json.Marshal(s.Args)
		if err != nil {
			return fmt.Errorf("encoding args for step %d: %w", i, err)
		}
		dependsOn := make([]string, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			dependsOn = append(dependsOn, d.String())
		}
		dependsOnJSON, err := json.Marshal(dependsOn)
		if err != nil {
			return fmt.Errorf("encoding depends_on for step %d: %w", i, err)
		}
		writeSet, err := json.Marshal(s.WriteSet)
		if err != nil {
			return fmt.Errorf("encoding write_set for step %d: %w", i, err)
		}
		_, err = txStore.execContext(ctx, `
			INSERT INTO "dsl-ob-poc".compiled_runbook_steps (
				runbook_id, step_index, step_id, verb_fqn, args, depends_on,
				execution_mode, write_set, sentence, source_stmt_ix, as_binding
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			rb.Id.String(), i, s.StepID.String(), s.VerbFQN, args, dependsOnJSON,
			string(s.ExecutionMode), writeSet, s.Sentence, s.SourceStatementIndex, s.AsBinding,
		)
		if err != nil {
			return fmt.Errorf("inserting step %d for %s: %w", i, rb.Id, err)
		}
	}

	return txStore.Commit()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
