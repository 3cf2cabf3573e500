package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/durability"
	"dsl-ob-poc/internal/runbook"
)

// Resumer builds the durability.Resumer callback durability.Resume and
// durability.Sweep invoke once a parked token's correlation resolves:
// it folds any produced binding from the outcome payload into the
// envelope's entity bindings (a resumed run always re-enters
// execute_runbook in full rather than keeping a live in-memory
// SymbolTable across the park), advances the cursor past the
// step that parked, and re-enters Execute. defaultActor stands in for
// the principal, since a ParkedToken does not itself carry one — the
// resumed run still passes through the same execution-time governance
// re-check on every subsequent step regardless.
func (e *Executor) Resumer(defaultActor abac.ActorContext) durability.Resumer {
	return func(ctx context.Context, token durability.ParkedToken, result durability.TaskResult) error {
		rb, ok, err := e.Runbooks.GetRunbook(ctx, runbook.NewId(token.RunbookID))
		if err != nil {
			return fmt.Errorf("loading parked runbook %s: %w", token.RunbookID, err)
		}
		if !ok {
			return apperrors.New(apperrors.KindNotFound, "parked runbook %s not found", token.RunbookID)
		}
		if result.Status == durability.TaskFailed || result.Status == durability.TaskExpired {
			rb.Status.Kind = runbook.StatusFailed
			rb.Status.FailureError = result.Error
			if rb.Status.FailureError == "" && result.Status == durability.TaskExpired {
				rb.Status.FailureError = "park timed out awaiting correlation " + token.CorrelationKey
			}
			return e.Runbooks.SaveRunbook(ctx, rb)
		}

		// The parked step's own effect arrives in the resolved payload,
		// whose produced binding is folded in below; resume continues at
		// the next step.
		rb.Status.Kind = runbook.StatusParked
		rb.Status.Cursor = token.StepIndex + 1
		if binding, uuidStr := producedBindingFromPayload(result.Payload); binding != "" {
			if id, err := uuid.Parse(uuidStr); err == nil {
				rb.Envelope.Core.EntityBindings = append(rb.Envelope.Core.EntityBindings, runbook.EntityBinding{
					Name: binding, UUID: id,
				})
			}
		}
		if err := e.Runbooks.SaveRunbook(ctx, rb); err != nil {
			return fmt.Errorf("reinstating parked runbook %s for resume: %w", token.RunbookID, err)
		}

		_, err = e.Execute(ctx, runbook.NewId(token.RunbookID), defaultActor)
		return err
	}
}

func producedBindingFromPayload(payload map[string]any) (name, uuidStr string) {
	if payload == nil {
		return "", ""
	}
	n, _ := payload["as_binding"].(string)
	u, _ := payload["uuid"].(string)
	return n, u
}
