package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// PlanPublishCommand creates the plan-publish subcommand: compute the
// structural diff a changeset would apply against the active set.
func PlanPublishCommand(rt *Runtime) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "plan-publish",
		Short: "Plan a dry-run-complete changeset's publish",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanPublish(cmd.Context(), rt, id)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "changeset id")
	cmd.MarkFlagRequired("id")

	return cmd
}

func runPlanPublish(ctx context.Context, rt *Runtime, id string) error {
	cs, err := rt.Publisher(nil).PlanPublish(ctx, id)
	if err != nil {
		return fmt.Errorf("planning publish of changeset %s: %w", id, err)
	}
	return printJSON(cs)
}
