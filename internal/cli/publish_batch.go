package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// PublishBatchCommand creates the publish-batch subcommand: publish
// several planned changesets in order, stopping at the first failure.
func PublishBatchCommand(rt *Runtime) *cobra.Command {
	var (
		ids         []string
		publishedBy string
	)

	cmd := &cobra.Command{
		Use:   "publish-batch",
		Short: "Publish several planned changesets in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublishBatch(cmd.Context(), rt, ids, publishedBy)
		},
	}

	cmd.Flags().StringSliceVar(&ids, "id", nil, "changeset id (repeatable, published in the order given)")
	cmd.Flags().StringVar(&publishedBy, "published-by", "cli", "actor recorded as having published these changesets")
	cmd.MarkFlagRequired("id")

	return cmd
}

func runPublishBatch(ctx context.Context, rt *Runtime, ids []string, publishedBy string) error {
	published, err := rt.Publisher(nil).PublishBatch(ctx, ids, publishedBy)
	if err != nil {
		return fmt.Errorf("publishing batch: %w", err)
	}
	return printJSON(published)
}
