package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/compiler"
	"dsl-ob-poc/internal/durability"
	"dsl-ob-poc/internal/ontology"
	"dsl-ob-poc/internal/runbook"
	"dsl-ob-poc/internal/session"
)

const executorTestOntology = `
[entity.cbu]
category = "client_business_unit"
db_schema = "dsl-ob-poc"
db_table = "cbus"
pk_column = "cbu_id"
`

func loadExecutorOntology(t *testing.T) *ontology.Ontology {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "onto.toml"), []byte(executorTestOntology), 0o644))
	o, err := ontology.Load(dir)
	require.NoError(t, err)
	return o
}

func compileFixture(t *testing.T, src string, contracts ...*compiler.VerbContract) *runbook.CompiledRunbook {
	t.Helper()
	onto := loadExecutorOntology(t)
	resolver := compiler.NewMapResolver(contracts...)
	sess := session.New("sess-exec", "set-1")

	prog, err := ast.Parse(src)
	require.NoError(t, err)

	result, err := compiler.Compile(prog, sess, resolver, onto, abac.ActorContext{}, compiler.Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	require.False(t, result.Diagnostics.HasHardErrors(), "%v", result.Diagnostics)
	require.NotNil(t, result.Runbook)
	return result.Runbook
}

func newTestExecutor(rb *runbook.CompiledRunbook) (*Executor, *MemRunbookStore) {
	rs := NewMemRunbookStore()
	_ = rs.SaveRunbook(context.Background(), rb)
	return &Executor{
		Runbooks: rs,
		Durable:  durability.NewMemStore(),
		Locks:    NewMemLockManager(),
		Verbs:    NewRegistry(),
	}, rs
}

func TestExecute_SyncStepsRunInOrderAndBindOutputs(t *testing.T) {
	cbuCreate := &compiler.VerbContract{
		FQN: "cbu.create", Produces: &compiler.ProducedBinding{EntityType: "cbu"},
		ExecutionMode: runbook.ModeSync, WriteSetArgs: nil,
		Params: []compiler.ParamSpec{{Name: "name", Kind: compiler.ParamString, Required: true}},
	}
	docAttach := &compiler.VerbContract{
		FQN:           "document.attach",
		ExecutionMode: runbook.ModeSync,
		WriteSetArgs:  []string{"cbu-id"},
		Params: []compiler.ParamSpec{
			{Name: "cbu-id", Kind: compiler.ParamUUID, Required: true, EntityType: "cbu"},
			{Name: "kind", Kind: compiler.ParamString, Required: true},
		},
	}

	rb := compileFixture(t, `
(cbu.create :name "Acme Corp" :as @cbu)
(document.attach :cbu-id @cbu :kind "passport")
`, cbuCreate, docAttach)

	ex, rs := newTestExecutor(rb)

	var boundCBU uuid.UUID
	var sawArg string
	ex.Verbs.Register("cbu.create", func(inv Invocation) (Outcome, error) {
		id := uuid.New()
		boundCBU = id
		return Outcome{Kind: OutcomeUUID, UUID: id}, nil
	})
	ex.Verbs.Register("document.attach", func(inv Invocation) (Outcome, error) {
		sawArg = inv.Args["cbu-id"]
		return Outcome{Kind: OutcomeRecord, Record: "attached"}, nil
	})

	report, err := ex.Execute(context.Background(), rb.Id, abac.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, runbook.StatusCompleted, report.Status)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, "completed", report.Steps[0].Status)
	assert.Equal(t, "completed", report.Steps[1].Status)
	assert.Equal(t, boundCBU.String(), sawArg)

	saved, ok, err := rs.GetRunbook(context.Background(), rb.Id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runbook.StatusCompleted, saved.Status.Kind)
}

func TestExecute_GovernanceDenialFailsStep(t *testing.T) {
	cbuCreate := &compiler.VerbContract{
		FQN: "cbu.create", Produces: &compiler.ProducedBinding{EntityType: "cbu"},
		ExecutionMode: runbook.ModeSync,
		Params:        []compiler.ParamSpec{{Name: "name", Kind: compiler.ParamString, Required: true}},
	}
	rb := compileFixture(t, `(cbu.create :name "Acme Corp" :as @cbu)`, cbuCreate)
	ex, _ := newTestExecutor(rb)
	ex.Verbs.Register("cbu.create", func(inv Invocation) (Outcome, error) {
		return Outcome{Kind: OutcomeUUID, UUID: uuid.New()}, nil
	})
	ex.Labels = func(ctx context.Context, step runbook.CompiledStep) (abac.SecurityLabel, error) {
		return abac.SecurityLabel{Classification: abac.Restricted}, nil
	}

	report, err := ex.Execute(context.Background(), rb.Id, abac.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, runbook.StatusFailed, report.Status)
	assert.Contains(t, report.FailureError, "denied")
}

func TestExecute_DurableStepParksAndRecordsToken(t *testing.T) {
	docAttach := &compiler.VerbContract{
		FQN:           "document.attach",
		ExecutionMode: runbook.ModeDurable,
		Params:        []compiler.ParamSpec{{Name: "kind", Kind: compiler.ParamString, Required: true}},
	}
	rb := compileFixture(t, `(document.attach :kind "passport")`, docAttach)
	ex, rs := newTestExecutor(rb)

	ex.Verbs.Register("document.attach", func(inv Invocation) (Outcome, error) {
		return Outcome{Kind: OutcomePark, Park: &ParkRequest{
			Gate: GateDurable, CorrelationKey: "corr-xyz", Payload: map[string]any{},
		}}, nil
	})

	report, err := ex.Execute(context.Background(), rb.Id, abac.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, runbook.StatusParked, report.Status)
	assert.Equal(t, "corr-xyz", report.CorrelationKey)

	saved, ok, err := rs.GetRunbook(context.Background(), rb.Id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runbook.StatusParked, saved.Status.Kind)

	token, ok, err := ex.Durable.GetParkedTokenByCorrelationKey(context.Background(), "corr-xyz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rb.Id.UUID, token.RunbookID)
}

func TestExecute_ResumeContinuesAfterPark(t *testing.T) {
	cbuCreate := &compiler.VerbContract{
		FQN: "cbu.create", Produces: &compiler.ProducedBinding{EntityType: "cbu"},
		ExecutionMode: runbook.ModeSync,
		Params:        []compiler.ParamSpec{{Name: "name", Kind: compiler.ParamString, Required: true}},
	}
	docAttach := &compiler.VerbContract{
		FQN:           "document.attach",
		ExecutionMode: runbook.ModeDurable,
		WriteSetArgs:  []string{"cbu-id"},
		Params: []compiler.ParamSpec{
			{Name: "cbu-id", Kind: compiler.ParamUUID, Required: true, EntityType: "cbu"},
			{Name: "kind", Kind: compiler.ParamString, Required: true},
		},
	}
	auditClose := &compiler.VerbContract{
		FQN:           "audit.close",
		ExecutionMode: runbook.ModeSync,
	}

	rb := compileFixture(t, `
(cbu.create :name "Acme Corp" :as @cbu)
(document.attach :cbu-id @cbu :kind "passport")
(audit.close)
`, cbuCreate, docAttach, auditClose)

	ex, rs := newTestExecutor(rb)
	ex.Verbs.Register("cbu.create", func(inv Invocation) (Outcome, error) {
		return Outcome{Kind: OutcomeUUID, UUID: uuid.New()}, nil
	})
	ex.Verbs.Register("document.attach", func(inv Invocation) (Outcome, error) {
		return Outcome{Kind: OutcomePark, Park: &ParkRequest{Gate: GateDurable, CorrelationKey: "corr-resume"}}, nil
	})
	finalStepRan := false
	ex.Verbs.Register("audit.close", func(inv Invocation) (Outcome, error) {
		finalStepRan = true
		return Outcome{Kind: OutcomeRecord}, nil
	})

	report, err := ex.Execute(context.Background(), rb.Id, abac.ActorContext{})
	require.NoError(t, err)
	require.Equal(t, runbook.StatusParked, report.Status)
	assert.False(t, finalStepRan)

	resumer := ex.Resumer(abac.ActorContext{})
	resumed, err := durability.Resume(context.Background(), ex.Durable, "corr-resume",
		durability.TaskResult{TaskID: "task-1", Status: durability.TaskCompleted, IdempotencyKey: "idem-1"}, resumer)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.True(t, finalStepRan)

	saved, ok, err := rs.GetRunbook(context.Background(), rb.Id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runbook.StatusCompleted, saved.Status.Kind)
}

func TestSortedLockKeys_DeduplicatesAndOrdersDeterministically(t *testing.T) {
	id := uuid.New()
	ws := []runbook.WriteSetMember{
		{EntityType: "cbu", EntityID: id},
		{EntityType: "cbu", EntityID: id},
		{EntityType: "account", EntityID: uuid.New()},
	}
	keys1 := SortedLockKeys(ws)
	keys2 := SortedLockKeys(ws)
	assert.Len(t, keys1, 2)
	assert.Equal(t, keys1, keys2)
}
