package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// DryRunCommand creates the dry-run subcommand: apply a validated
// changeset's migration artifacts to a scratch schema.
func DryRunCommand(rt *Runtime) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Dry-run a validated changeset's migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDryRun(cmd.Context(), rt, id)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "changeset id")
	cmd.MarkFlagRequired("id")

	return cmd
}

func runDryRun(ctx context.Context, rt *Runtime, id string) error {
	cs, err := rt.Publisher(nil).DryRun(ctx, id)
	if err != nil {
		return fmt.Errorf("dry-running changeset %s: %w", id, err)
	}
	return printJSON(cs)
}
