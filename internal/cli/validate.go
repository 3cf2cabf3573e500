package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidateCommand creates the validate subcommand: check a proposed
// changeset's referenced FQN integrity against the bundle and the
// active set.
func ValidateCommand(rt *Runtime) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a proposed changeset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), rt, id)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "changeset id")
	cmd.MarkFlagRequired("id")

	return cmd
}

func runValidate(ctx context.Context, rt *Runtime, id string) error {
	cs, err := rt.Publisher(nil).Validate(ctx, id)
	if err != nil {
		return fmt.Errorf("validating changeset %s: %w", id, err)
	}
	return printJSON(cs)
}
