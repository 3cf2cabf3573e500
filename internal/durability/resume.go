package durability

import (
	"context"
	"fmt"
	"time"

	"dsl-ob-poc/internal/apperrors"
)

// Resumer is the callback executor wires in: given a runbook id, the
// step index a parked token names, and the resolved outcome payload,
// it binds produced symbols and re-enters execute_runbook. durability
// itself never calls back into the executor directly, avoiding an
// import cycle; it only resolves the token and leaves re-entry to the
// caller.
type Resumer func(ctx context.Context, token ParkedToken, result TaskResult) error

// Resume implements the signal-ingress resolution procedure: resolve
// the ParkedToken by correlation key, write the audit-critical
// InvocationRecord synchronously (its insert enforces idempotency
// scoped to (task_id, idempotency_key)), mark the token completed and
// update its correlation, then invoke the resumer. A replayed signal (same task_id + idempotency_key) is a
// reported no-op, not an error — the caller already observed success.
func Resume(ctx context.Context, store Store, correlationKey string, result TaskResult, resume Resumer) (resumed bool, err error) {
	token, ok, err := store.GetParkedTokenByCorrelationKey(ctx, correlationKey)
	if err != nil {
		return false, fmt.Errorf("resolving parked token for correlation %s: %w", correlationKey, err)
	}
	if !ok {
		return false, apperrors.New(apperrors.KindNotFound, "no parked token for correlation key %q", correlationKey)
	}
	if token.Status != ParkedActive {
		return false, nil
	}

	inserted, err := store.PutInvocationRecord(ctx, InvocationRecord{
		TaskID:         result.TaskID,
		IdempotencyKey: result.IdempotencyKey,
		RunbookID:      token.RunbookID,
		StepIndex:      token.StepIndex,
		Outcome:        result.Status,
		RecordedAt:     time.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("recording invocation for task %s: %w", result.TaskID, err)
	}
	if !inserted {
		// Same (task_id, idempotency_key) seen before: idempotent no-op.
		return false, nil
	}

	if err := store.UpdateParkedTokenStatus(ctx, token.Token, ParkedCompleted); err != nil {
		return false, fmt.Errorf("completing parked token %s: %w", token.Token, err)
	}
	if err := store.UpdateCorrelationStatus(ctx, correlationKey, correlationStatusFor(result.Status)); err != nil {
		return false, fmt.Errorf("updating correlation %s: %w", correlationKey, err)
	}

	if resume != nil {
		if err := resume(ctx, token, result); err != nil {
			return true, fmt.Errorf("resuming runbook %s at step %d: %w", token.RunbookID, token.StepIndex, err)
		}
	}
	return true, nil
}

func correlationStatusFor(s TaskStatus) CorrelationStatus {
	switch s {
	case TaskCompleted:
		return CorrelationCompleted
	case TaskFailed, TaskExpired:
		return CorrelationFailed
	default:
		return CorrelationCompleted
	}
}
