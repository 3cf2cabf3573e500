package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/executor"
	"dsl-ob-poc/internal/runbook"
)

// ExecuteCommand creates the execute subcommand: dispatch a previously
// sealed runbook's steps, stopping at the first park.
func ExecuteCommand(rt *Runtime, verbs *executor.Registry, labels executor.LabelResolver) *cobra.Command {
	var (
		runbookID string
		actorID   string
		roles     []string
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a sealed runbook by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd.Context(), rt, verbs, labels, runbookID, actorID, roles)
		},
	}

	cmd.Flags().StringVar(&runbookID, "runbook-id", "", "id of the sealed runbook to execute")
	cmd.Flags().StringVar(&actorID, "actor-id", "cli", "actor id presented to the execution-time ABAC re-check")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "actor roles presented to the execution-time ABAC re-check")
	cmd.MarkFlagRequired("runbook-id")

	return cmd
}

func runExecute(ctx context.Context, rt *Runtime, verbs *executor.Registry, labels executor.LabelResolver, runbookID, actorID string, roles []string) error {
	id, err := uuid.Parse(runbookID)
	if err != nil {
		return fmt.Errorf("parsing runbook id %q: %w", runbookID, err)
	}

	exec := rt.Executor(verbs, labels)
	report, err := exec.Execute(ctx, runbook.NewId(id), abac.ActorContext{ActorID: actorID, Roles: roles})
	if err != nil {
		return fmt.Errorf("executing runbook %s: %w", runbookID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
