package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// PublishCommand creates the publish subcommand: write a planned
// changeset's snapshots and swap the active-set pointer.
func PublishCommand(rt *Runtime) *cobra.Command {
	var (
		id          string
		publishedBy string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a planned changeset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd.Context(), rt, id, publishedBy)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "changeset id")
	cmd.Flags().StringVar(&publishedBy, "published-by", "cli", "actor recorded as having published this changeset")
	cmd.MarkFlagRequired("id")

	return cmd
}

func runPublish(ctx context.Context, rt *Runtime, id, publishedBy string) error {
	cs, err := rt.Publisher(nil).Publish(ctx, id, publishedBy)
	if err != nil {
		return fmt.Errorf("publishing changeset %s: %w", id, err)
	}
	return printJSON(cs)
}
