// Package cli implements dslctl's subcommands, one file per command:
// each exported XCommand() builds a *cobra.Command and runs against a
// Runtime resolved once in main.
package cli

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/compiler"
	"dsl-ob-poc/internal/config"
	"dsl-ob-poc/internal/durability"
	"dsl-ob-poc/internal/eventbus"
	"dsl-ob-poc/internal/executor"
	"dsl-ob-poc/internal/ontology"
	"dsl-ob-poc/internal/registry"
	"dsl-ob-poc/internal/session"
	"dsl-ob-poc/internal/store"
	"dsl-ob-poc/internal/templates"
	"dsl-ob-poc/internal/workflowclient"
)

// Runtime bundles every component a subcommand needs, resolved once
// from config.Runtime so individual commands stay thin. Mock-mode
// (config.MockStore) backs every store with its in-memory
// implementation, the same escape hatch IsMockMode documents for
// local runs and CI without a database.
type Runtime struct {
	Cfg        *config.Runtime
	Registry   registry.Store
	Runbooks   executor.RunbookStore
	Durable    durability.Store
	Locks      executor.LockManager
	Ontology   *ontology.Ontology
	Bus        *eventbus.Bus
	Sessions   *session.Manager
	Templates  *templates.Registry
	Workflow   *workflowclient.Client
	Notifier   *durability.HumanGateNotifier
	closeFuncs []func() error
}

// Close releases the underlying DB connection, if one was opened.
func (rt *Runtime) Close() error {
	var first error
	for _, f := range rt.closeFuncs {
		if err := f(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewRuntime resolves a Runtime from the process environment.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	onto, err := ontology.Load(cfg.OntologyDir)
	if err != nil {
		return nil, fmt.Errorf("loading ontology: %w", err)
	}

	rt := &Runtime{
		Cfg:       cfg,
		Ontology:  onto,
		Bus:       eventbus.New(256),
		Sessions:  session.NewManager(),
		Templates: templates.NewRegistry(),
		Workflow:  workflowclient.NewClient(cfg.WorkflowEngineURL),
		Notifier:  durability.NewHumanGateNotifier(cfg.SlackWebhookURL),
	}

	if cfg.Store.Type == config.MockStore {
		rt.Registry = registry.NewMemStore()
		rt.Runbooks = executor.NewMemRunbookStore()
		rt.Durable = durability.NewMemStore()
		rt.Locks = executor.NewMemLockManager()
		return rt, nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Store.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Store.ConnectionString, err)
	}
	if err := store.Migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	pg := store.New(db)
	rt.Registry = pg
	rt.Runbooks = pg
	rt.Durable = pg
	rt.Locks = store.NewPostgresLockManager(pg)
	rt.closeFuncs = append(rt.closeFuncs, db.Close)
	return rt, nil
}

// Resolver returns the ContractResolver bound to the active snapshot
// set, falling back to a snapshot-set-free MapResolver only in tests
// (Runtime always uses StoreResolver against whichever Store backs it,
// mock or Postgres).
func (rt *Runtime) Resolver(ctx context.Context, snapshotSetID string) compiler.ContractResolver {
	return compiler.NewStoreResolver(ctx, rt.Registry, snapshotSetID)
}

// ActiveSnapshotSetID resolves the registry's currently published
// snapshot set, the default a CLI invocation compiles against when
// the caller does not name one explicitly.
func (rt *Runtime) ActiveSnapshotSetID(ctx context.Context) (string, error) {
	active, ok, err := rt.Registry.GetActiveSet(ctx)
	if err != nil {
		return "", fmt.Errorf("reading active snapshot set: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("no active snapshot set published yet")
	}
	return active.SnapshotSetID, nil
}

// Publisher builds a registry.Publisher over the runtime's store. dry
// is nil (NoopDryRunner) unless a concrete migration-applying
// DryRunner is wired in by a caller that owns a scratch schema.
func (rt *Runtime) Publisher(dry registry.DryRunner) *registry.Publisher {
	if dry == nil {
		dry = registry.NoopDryRunner{}
	}
	return registry.NewPublisher(rt.Registry, dry, rt.Cfg.Log)
}

// Executor builds an executor.Executor with every component it needs
// except Verbs, which a deployment populates with its own verb
// catalog (see cmd/dslctl's unregistered-verb behavior: an unknown
// verb fails with KindVerbExecutionFailed at dispatch, the same
// surface an unreachable external system would produce).
func (rt *Runtime) Executor(verbs *executor.Registry, labels executor.LabelResolver) *executor.Executor {
	return &executor.Executor{
		Runbooks: rt.Runbooks,
		Durable:  rt.Durable,
		Locks:    rt.Locks,
		Verbs:    verbs,
		Labels:   labels,
		Bus:      rt.Bus,
		Sessions: rt.Sessions,
		Purpose:  abac.PurposeOperations,
	}
}
