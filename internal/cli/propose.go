package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dsl-ob-poc/internal/registry"
)

// changeSetBundle is the on-disk shape a propose invocation reads: a
// manifest plus its artifacts, the same pair Propose hashes together.
type changeSetBundle struct {
	Manifest  registry.Manifest   `json:"manifest"`
	Artifacts []registry.Artifact `json:"artifacts"`
}

// ProposeCommand creates the propose subcommand: hash and persist a
// changeset bundle in the proposed phase.
func ProposeCommand(rt *Runtime) *cobra.Command {
	var (
		id   string
		file string
	)

	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose a changeset bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPropose(cmd.Context(), rt, id, file)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "changeset id")
	cmd.Flags().StringVar(&file, "file", "", "path to a JSON changeset bundle ({manifest, artifacts})")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runPropose(ctx context.Context, rt *Runtime, id, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}
	var bundle changeSetBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return fmt.Errorf("parsing changeset bundle %s: %w", file, err)
	}

	cs, err := rt.Publisher(nil).Propose(ctx, id, bundle.Manifest, bundle.Artifacts)
	if err != nil {
		return fmt.Errorf("proposing changeset %s: %w", id, err)
	}
	return printJSON(cs)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
