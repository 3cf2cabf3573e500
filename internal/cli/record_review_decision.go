package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// RecordReviewDecisionCommand creates the record-review-decision
// subcommand: persist a governed-tier approval or rejection against a
// changeset.
func RecordReviewDecisionCommand(rt *Runtime) *cobra.Command {
	var (
		id       string
		approver string
		approved bool
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "record-review-decision",
		Short: "Record an approval or rejection against a changeset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordReviewDecision(cmd.Context(), rt, id, approver, approved, reason)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "changeset id")
	cmd.Flags().StringVar(&approver, "approver", "", "reviewer's actor id")
	cmd.Flags().BoolVar(&approved, "approved", false, "whether the review approves the changeset")
	cmd.Flags().StringVar(&reason, "reason", "", "reviewer's stated reason")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("approver")

	return cmd
}

func runRecordReviewDecision(ctx context.Context, rt *Runtime, id, approver string, approved bool, reason string) error {
	if err := rt.Publisher(nil).RecordReviewDecision(ctx, id, approver, approved, reason); err != nil {
		return fmt.Errorf("recording review decision for changeset %s: %w", id, err)
	}
	fmt.Println("review decision recorded")
	return nil
}
