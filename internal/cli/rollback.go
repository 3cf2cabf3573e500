package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// RollbackCommand creates the rollback subcommand: overwrite the
// active-set pointer with a prior snapshot set id.
func RollbackCommand(rt *Runtime) *cobra.Command {
	var (
		targetSnapshotSetID string
		actor               string
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the active snapshot set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(cmd.Context(), rt, targetSnapshotSetID, actor)
		},
	}

	cmd.Flags().StringVar(&targetSnapshotSetID, "target-snapshot-set-id", "", "snapshot set id to roll back to")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded as having performed this rollback")
	cmd.MarkFlagRequired("target-snapshot-set-id")

	return cmd
}

func runRollback(ctx context.Context, rt *Runtime, targetSnapshotSetID, actor string) error {
	if err := rt.Publisher(nil).Rollback(ctx, targetSnapshotSetID, actor); err != nil {
		return fmt.Errorf("rolling back to %s: %w", targetSnapshotSetID, err)
	}
	fmt.Printf("active snapshot set rolled back to %s\n", targetSnapshotSetID)
	return nil
}
