// Command dslctl is the operator CLI: compile, execute, resume, and
// cancel runbooks, and drive the registry's changeset publish
// pipeline.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dsl-ob-poc/internal/cli"
	"dsl-ob-poc/internal/executor"
)

func main() {
	ctx := context.Background()

	rt, err := cli.NewRuntime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dslctl: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	verbs := executor.NewRegistry()

	root := &cobra.Command{
		Use:   "dslctl",
		Short: "Operate the compile-and-replay runbook engine",
	}

	root.AddCommand(
		cli.CompileCommand(rt),
		cli.ExecuteCommand(rt, verbs, nil),
		cli.ResumeCommand(rt, verbs, nil),
		cli.CancelCommand(rt),
		cli.ProposeCommand(rt),
		cli.ValidateCommand(rt),
		cli.DryRunCommand(rt),
		cli.PlanPublishCommand(rt),
		cli.PublishCommand(rt),
		cli.PublishBatchCommand(rt),
		cli.RollbackCommand(rt),
		cli.RecordReviewDecisionCommand(rt),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dslctl: %v\n", err)
		os.Exit(1)
	}
}
