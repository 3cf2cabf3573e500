// Command apiserver exposes the compile-and-replay runbook engine over
// HTTP: session utterances, runbook execution and cancellation,
// durable resume, and the registry's changeset publish pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"dsl-ob-poc/internal/apiserver"
	"dsl-ob-poc/internal/cli"
	"dsl-ob-poc/internal/executor"
)

func main() {
	addr := flag.String("addr", ":8181", "listen address")
	flag.Parse()

	ctx := context.Background()

	rt, err := cli.NewRuntime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	verbs := executor.NewRegistry()
	srv := apiserver.New(rt, verbs, nil)

	rt.Cfg.Log.Info("listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, srv.Router()); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}
