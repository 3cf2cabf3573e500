package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dsl-ob-poc/internal/durability"
	"dsl-ob-poc/internal/runbook"
)

// CancelCommand creates the cancel subcommand: user-initiated
// cancellation of a parked runbook, marking it Failed{UserCancelled}
// and instructing the workflow engine to abort the correlated process
// instance, if any.
func CancelCommand(rt *Runtime) *cobra.Command {
	var (
		runbookID string
		reason    string
	)

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a parked runbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd.Context(), rt, runbookID, reason)
		},
	}

	cmd.Flags().StringVar(&runbookID, "runbook-id", "", "id of the runbook to cancel")
	cmd.Flags().StringVar(&reason, "reason", "", "human-readable cancellation reason")
	cmd.MarkFlagRequired("runbook-id")

	return cmd
}

func runCancel(ctx context.Context, rt *Runtime, runbookID, reason string) error {
	id, err := uuid.Parse(runbookID)
	if err != nil {
		return fmt.Errorf("parsing runbook id %q: %w", runbookID, err)
	}

	rb, ok, err := rt.Runbooks.GetRunbook(ctx, runbook.NewId(id))
	if err != nil {
		return fmt.Errorf("loading runbook %s: %w", runbookID, err)
	}
	if !ok {
		return fmt.Errorf("runbook %s not found", runbookID)
	}
	if rb.Status.Kind != runbook.StatusParked {
		return fmt.Errorf("runbook %s is %s, not parked", runbookID, rb.Status.Kind)
	}

	correlationKey := rb.Status.CorrelationKey
	if correlationKey != "" {
		if token, ok, err := rt.Durable.GetParkedTokenByCorrelationKey(ctx, correlationKey); err == nil && ok {
			if err := rt.Durable.UpdateParkedTokenStatus(ctx, token.Token, durability.ParkedCancelled); err != nil {
				return fmt.Errorf("marking parked token cancelled: %w", err)
			}
		}
		if corr, ok, err := rt.Durable.GetCorrelationByKey(ctx, correlationKey); err == nil && ok {
			if err := rt.Workflow.CancelProcess(ctx, corr.ProcessInstanceID); err != nil {
				return fmt.Errorf("cancelling workflow process instance %s: %w", corr.ProcessInstanceID, err)
			}
			if err := rt.Durable.UpdateCorrelationStatus(ctx, correlationKey, durability.CorrelationCancelled); err != nil {
				return fmt.Errorf("marking correlation cancelled: %w", err)
			}
		}
	}

	rb.Status.Kind = runbook.StatusFailed
	rb.Status.FailureError = "UserCancelled: " + reason
	if err := rt.Runbooks.SaveRunbook(ctx, rb); err != nil {
		return fmt.Errorf("saving cancelled runbook: %w", err)
	}

	fmt.Println("cancelled")
	return nil
}
