package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/ontology"
	"dsl-ob-poc/internal/registry"
	"dsl-ob-poc/internal/runbook"
	"dsl-ob-poc/internal/session"
	"dsl-ob-poc/internal/templates"
)

const testOntologyTOML = `
[entity.cbu]
category = "client_business_unit"
db_schema = "dsl-ob-poc"
db_table = "cbus"
pk_column = "cbu_id"

[entity.cbu.implicit_create]
allowed = true
canonical_verb = "cbu.create"
required_args = ["name"]
`

func loadTestOntology(t *testing.T) *ontology.Ontology {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "onto.toml"), []byte(testOntologyTOML), 0o644))
	o, err := ontology.Load(dir)
	require.NoError(t, err)
	return o
}

func cbuCreateContract() *VerbContract {
	return &VerbContract{
		FQN: "cbu.create",
		Params: []ParamSpec{
			{Name: "name", Kind: ParamString, Required: true},
		},
		Produces:      &ProducedBinding{EntityType: "cbu"},
		ExecutionMode: runbook.ModeSync,
		WriteSetArgs:  []string{"name"},
		Sentence:      "Create a CBU",
	}
}

func companyCreateContract() *VerbContract {
	return &VerbContract{
		FQN: "entity.create-limited-company",
		Params: []ParamSpec{
			{Name: "name", Kind: ParamString, Required: true},
		},
		Produces:      &ProducedBinding{EntityType: "company"},
		ExecutionMode: runbook.ModeSync,
		WriteSetArgs:  []string{"name"},
		Sentence:      "Create a limited company",
	}
}

func assignRoleContract() *VerbContract {
	return &VerbContract{
		FQN: "cbu.assign-role",
		Params: []ParamSpec{
			{Name: "cbu-id", Kind: ParamUUID, Required: true},
			{Name: "entity-id", Kind: ParamUUID, Required: true},
			{Name: "role", Kind: ParamString, Required: true},
		},
		ExecutionMode: runbook.ModeSync,
		WriteSetArgs:  []string{"cbu-id", "entity-id"},
		Sentence:      "Assign a role",
	}
}

func documentAttachContract() *VerbContract {
	return &VerbContract{
		FQN: "document.attach",
		Params: []ParamSpec{
			{Name: "cbu-id", Kind: ParamUUID, Required: true, EntityType: "cbu"},
			{Name: "kind", Kind: ParamString, Required: true},
		},
		ExecutionMode: runbook.ModeDurable,
		WriteSetArgs:  []string{"cbu-id"},
		Sentence:      "Attach a document",
	}
}

func TestCompile_HappyPath_ProducesOrderedSteps(t *testing.T) {
	onto := loadTestOntology(t)
	resolver := NewMapResolver(cbuCreateContract(), documentAttachContract())
	sess := session.New("sess-1", "set-1")

	prog, err := ast.Parse(`
(cbu.create :name "Acme Corp" :as @cbu)
(document.attach :cbu-id @cbu :kind "passport")
`)
	require.NoError(t, err)

	result, err := Compile(prog, sess, resolver, onto, abac.ActorContext{}, Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	require.False(t, result.Diagnostics.HasHardErrors())
	require.NotNil(t, result.Runbook)

	steps := result.Runbook.Steps
	require.Len(t, steps, 2)
	assert.Equal(t, "cbu.create", steps[0].VerbFQN)
	assert.Equal(t, "document.attach", steps[1].VerbFQN)
	assert.Len(t, steps[1].DependsOn, 1)
	assert.Equal(t, steps[0].StepID, steps[1].DependsOn[0])
}

func TestCompile_UndefinedSymbolIsHardError(t *testing.T) {
	onto := loadTestOntology(t)
	resolver := NewMapResolver(documentAttachContract())
	sess := session.New("sess-1", "set-1")

	prog, err := ast.Parse(`(document.attach :cbu-id @nope :kind "passport")`)
	require.NoError(t, err)

	result, err := Compile(prog, sess, resolver, onto, abac.ActorContext{}, Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	assert.True(t, result.Diagnostics.HasHardErrors())
	assert.Nil(t, result.Runbook)
}

func TestCompile_UnknownVerbIsHardError(t *testing.T) {
	onto := loadTestOntology(t)
	resolver := NewMapResolver(cbuCreateContract())
	sess := session.New("sess-1", "set-1")

	prog, err := ast.Parse(`(nonexistent.verb :x "y")`)
	require.NoError(t, err)

	result, err := Compile(prog, sess, resolver, onto, abac.ActorContext{}, Options{})
	require.NoError(t, err)
	assert.True(t, result.Diagnostics.HasHardErrors())
	assert.Nil(t, result.Runbook)
}

func TestCompile_IsDeterministicAcrossRuns(t *testing.T) {
	onto := loadTestOntology(t)
	resolver := NewMapResolver(cbuCreateContract(), documentAttachContract())

	src := `
(cbu.create :name "Acme Corp" :as @cbu)
(document.attach :cbu-id @cbu :kind "passport")
`
	prog1, err := ast.Parse(src)
	require.NoError(t, err)
	prog2, err := ast.Parse(src)
	require.NoError(t, err)

	r1, err := Compile(prog1, session.New("sess-1", "set-1"), resolver, onto, abac.ActorContext{}, Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	r2, err := Compile(prog2, session.New("sess-1", "set-1"), resolver, onto, abac.ActorContext{}, Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)

	assert.Equal(t, r1.Runbook.Id, r2.Runbook.Id)
}

func TestCompile_ImplicitlyCreatesMissingEntity(t *testing.T) {
	onto := loadTestOntology(t)
	cbuRefContract := &VerbContract{
		FQN: "document.attach",
		Params: []ParamSpec{
			{Name: "cbu-id", Kind: ParamEntityRef, Required: true, EntityType: "cbu"},
			{Name: "kind", Kind: ParamString, Required: true},
		},
		ExecutionMode: runbook.ModeDurable,
		WriteSetArgs:  []string{"cbu-id"},
	}
	resolver := NewMapResolver(cbuCreateContract(), cbuRefContract)
	sess := session.New("sess-1", "set-1")

	prog, err := ast.Parse(`(document.attach :cbu-id "Acme Corp" :kind "passport")`)
	require.NoError(t, err)

	result, err := Compile(prog, sess, resolver, onto, abac.ActorContext{}, Options{ImplicitCreate: ImplicitCreateEnabled, SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	require.False(t, result.Diagnostics.HasHardErrors())
	require.NotNil(t, result.Runbook)
	require.Len(t, result.Runbook.Steps, 2)
	assert.Equal(t, "cbu.create", result.Runbook.Steps[0].VerbFQN)
	require.Len(t, result.Synthetic, 1)
}

func TestCompile_ExpandsTemplatesBeforeLintingAndPopulatesAudits(t *testing.T) {
	onto := loadTestOntology(t)
	resolver := NewMapResolver(cbuCreateContract(), documentAttachContract())
	sess := session.New("sess-1", "set-1")

	reg := templates.NewRegistry()
	require.NoError(t, reg.Register(&templates.Definition{
		Name: "attach-doc",
		Body: `(document.attach :cbu-id @cbu :kind {{.kind}})`,
	}))

	prog, err := ast.Parse(`
(cbu.create :name "Acme Corp" :as @cbu)
(template.invoke :id "attach-doc" :params {:kind "passport"})
`)
	require.NoError(t, err)

	result, err := Compile(prog, sess, resolver, onto, abac.ActorContext{}, Options{
		SnapshotSetID: "set-1",
		Version:       1,
		Templates:     reg,
	})
	require.NoError(t, err)
	require.False(t, result.Diagnostics.HasHardErrors())
	require.NotNil(t, result.Runbook)

	require.Len(t, result.Runbook.Steps, 2)
	assert.Equal(t, "document.attach", result.Runbook.Steps[1].VerbFQN)

	require.Len(t, result.Runbook.Envelope.MacroExpansionAudits, 1)
	assert.Equal(t, "attach-doc", result.Runbook.Envelope.MacroExpansionAudits[0].TemplateID)
	require.Len(t, result.Runbook.Envelope.Core.MacroAuditDigests, 1)
	assert.Equal(t, result.Runbook.Envelope.MacroExpansionAudits[0].Digest, result.Runbook.Envelope.Core.MacroAuditDigests[0])
}

// TestCompile_ReordersForwardReferences exercises the reversed-input
// scenario: every :as binding a statement consumes is produced by a
// later statement in the same program. The producer graph must still
// order and seal it, reporting a ReorderingSuggested warning rather
// than failing on the forward references, and the resulting runbook
// must have the same steps (in the same canonical order) as compiling
// the statements in their natural dependency order.
func TestCompile_ReordersForwardReferences(t *testing.T) {
	onto := loadTestOntology(t)
	resolver := NewMapResolver(cbuCreateContract(), companyCreateContract(), assignRoleContract())

	reversed, err := ast.Parse(`
(cbu.assign-role :cbu-id @cbu :entity-id @co :role "account_holder")
(entity.create-limited-company :name "Acme Holdings Ltd" :as @co)
(cbu.create :name "Acme Holdings Ltd" :as @cbu)
`)
	require.NoError(t, err)

	result, err := Compile(reversed, session.New("sess-1", "set-1"), resolver, onto, abac.ActorContext{}, Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	require.False(t, result.Diagnostics.HasHardErrors(), "%v", result.Diagnostics.Items)
	require.NotNil(t, result.Runbook)
	assert.True(t, result.WasReordered)

	var sawReorderingWarning bool
	for _, d := range result.Diagnostics.Items {
		if d.Code == apperrors.KindReorderingSuggested {
			sawReorderingWarning = true
			assert.Equal(t, apperrors.SeverityWarning, d.Severity)
		}
	}
	assert.True(t, sawReorderingWarning, "expected a ReorderingSuggested warning")

	inOrder, err := ast.Parse(`
(cbu.create :name "Acme Holdings Ltd" :as @cbu)
(entity.create-limited-company :name "Acme Holdings Ltd" :as @co)
(cbu.assign-role :cbu-id @cbu :entity-id @co :role "account_holder")
`)
	require.NoError(t, err)

	inOrderResult, err := Compile(inOrder, session.New("sess-2", "set-1"), resolver, onto, abac.ActorContext{}, Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	require.False(t, inOrderResult.Diagnostics.HasHardErrors())
	assert.False(t, inOrderResult.WasReordered)

	require.Len(t, result.Runbook.Steps, len(inOrderResult.Runbook.Steps))
	for i := range result.Runbook.Steps {
		assert.Equal(t, inOrderResult.Runbook.Steps[i].VerbFQN, result.Runbook.Steps[i].VerbFQN)
	}
}

func TestCompile_DeprecatedVerbWarnsRetiredVerbFails(t *testing.T) {
	onto := loadTestOntology(t)

	deprecated := cbuCreateContract()
	deprecated.Status = registry.StatusDeprecated
	resolver := NewMapResolver(deprecated)
	sess := session.New("sess-1", "set-1")

	prog, err := ast.Parse(`(cbu.create :name "Acme Corp" :as @cbu)`)
	require.NoError(t, err)

	result, err := Compile(prog, sess, resolver, onto, abac.ActorContext{}, Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	require.False(t, result.Diagnostics.HasHardErrors())
	require.NotNil(t, result.Runbook)

	var sawDeprecated bool
	for _, d := range result.Diagnostics.Items {
		if d.Code == apperrors.KindDeprecatedVerb {
			sawDeprecated = true
			assert.Equal(t, apperrors.SeverityWarning, d.Severity)
		}
	}
	assert.True(t, sawDeprecated)

	retired := cbuCreateContract()
	retired.Status = registry.StatusRetired
	resolver2 := NewMapResolver(retired)

	prog2, err := ast.Parse(`(cbu.create :name "Acme Corp" :as @cbu)`)
	require.NoError(t, err)

	result2, err := Compile(prog2, session.New("sess-2", "set-1"), resolver2, onto, abac.ActorContext{}, Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	assert.True(t, result2.Diagnostics.HasHardErrors())
	assert.Nil(t, result2.Runbook)
}

func TestCompile_CyclicDependencyIsRejected(t *testing.T) {
	// Exercises the topoSort cycle path directly: two ops each
	// consuming the other's as_binding can never be compiled.
	nodes := []node{
		{op: op{statementIndex: 0, verbFQN: "entity.link", asBinding: "x", consumesSymbols: []string{"y"}}},
		{op: op{statementIndex: 1, verbFQN: "entity.link", asBinding: "y", consumesSymbols: []string{"x"}}},
	}
	edges := buildProducerGraph(nodes, nil)
	_, _, err := topoSort(nodes, edges)
	require.Error(t, err)
}
