package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/compiler"
	"dsl-ob-poc/internal/session"
)

// CompileCommand creates the compile subcommand: parse a DSL source
// file, compile it against the active (or named) snapshot set, and
// print the sealed runbook as JSON.
func CompileCommand(rt *Runtime) *cobra.Command {
	var (
		file          string
		sessionID     string
		snapshotSetID string
		actorID       string
		roles         []string
	)

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a DSL source file into a sealed runbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), rt, file, sessionID, snapshotSetID, actorID, roles)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to the DSL source file to compile")
	cmd.Flags().StringVar(&sessionID, "session-id", "cli-session", "session id to compile against")
	cmd.Flags().StringVar(&snapshotSetID, "snapshot-set-id", "", "snapshot set id to resolve contracts against (default: active set)")
	cmd.Flags().StringVar(&actorID, "actor-id", "cli", "actor id presented to the ABAC gate")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "actor roles presented to the ABAC gate")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runCompile(ctx context.Context, rt *Runtime, file, sessionID, snapshotSetID, actorID string, roles []string) error {
	source, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	prog, err := ast.Parse(string(source))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", file, err)
	}

	if snapshotSetID == "" {
		snapshotSetID, err = rt.ActiveSnapshotSetID(ctx)
		if err != nil {
			return err
		}
	}

	sess := session.New(sessionID, snapshotSetID)
	actor := abac.ActorContext{ActorID: actorID, Roles: roles}

	result, err := compiler.Compile(prog, sess, rt.Resolver(ctx, snapshotSetID), rt.Ontology, actor, compiler.Options{
		SnapshotSetID: snapshotSetID,
		Version:       1,
		Templates:     rt.Templates,
	})
	if err != nil {
		return fmt.Errorf("compiling %s: %w", file, err)
	}

	for _, d := range result.Diagnostics.Items {
		fmt.Fprintf(os.Stderr, "%s: %s\n", d.Severity, d.Message)
	}
	if result.Diagnostics.HasHardErrors() {
		return fmt.Errorf("compile of %s failed with hard errors", file)
	}

	if err := rt.Runbooks.SaveRunbook(ctx, result.Runbook); err != nil {
		return fmt.Errorf("saving compiled runbook: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Runbook)
}
