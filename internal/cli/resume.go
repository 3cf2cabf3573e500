package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/durability"
	"dsl-ob-poc/internal/executor"
)

// ResumeCommand creates the resume subcommand: deliver a task result
// against a parked token's correlation key and re-enter execution.
func ResumeCommand(rt *Runtime, verbs *executor.Registry, labels executor.LabelResolver) *cobra.Command {
	var (
		correlationKey string
		taskID         string
		status         string
		idempotencyKey string
		errMsg         string
		actorID        string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resolve a parked token and resume its runbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), rt, verbs, labels, correlationKey, taskID, status, idempotencyKey, errMsg, actorID)
		},
	}

	cmd.Flags().StringVar(&correlationKey, "correlation-key", "", "correlation key naming the parked token")
	cmd.Flags().StringVar(&taskID, "task-id", "", "id of the external task reporting this result")
	cmd.Flags().StringVar(&status, "status", "completed", "task outcome: completed, failed, or expired")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key scoping this delivery to task-id")
	cmd.Flags().StringVar(&errMsg, "error", "", "error message, when --status=failed")
	cmd.Flags().StringVar(&actorID, "actor-id", "cli", "actor id presented to the resumed execution's ABAC re-check")
	cmd.MarkFlagRequired("correlation-key")
	cmd.MarkFlagRequired("task-id")
	cmd.MarkFlagRequired("idempotency-key")

	return cmd
}

func runResume(ctx context.Context, rt *Runtime, verbs *executor.Registry, labels executor.LabelResolver, correlationKey, taskID, status, idempotencyKey, errMsg, actorID string) error {
	var taskStatus durability.TaskStatus
	switch status {
	case "completed":
		taskStatus = durability.TaskCompleted
	case "failed":
		taskStatus = durability.TaskFailed
	case "expired":
		taskStatus = durability.TaskExpired
	default:
		return fmt.Errorf("unrecognized --status %q (want completed, failed, or expired)", status)
	}

	result := durability.TaskResult{
		TaskID:         taskID,
		Status:         taskStatus,
		IdempotencyKey: idempotencyKey,
		Error:          errMsg,
	}

	exec := rt.Executor(verbs, labels)
	resumer := exec.Resumer(abac.ActorContext{ActorID: actorID})

	resumed, err := durability.Resume(ctx, rt.Durable, correlationKey, result, resumer)
	if err != nil {
		return fmt.Errorf("resuming correlation %s: %w", correlationKey, err)
	}
	if resumed {
		fmt.Println("resumed")
	} else {
		fmt.Println("already resolved, no-op")
	}
	return nil
}
