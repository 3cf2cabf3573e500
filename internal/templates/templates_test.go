package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/runbook"
)

func attachDoc() *Definition {
	return &Definition{
		Name:       "attach-doc",
		ParamNames: []string{"kind", "cbuid"},
		Body:       `(document.attach :cbu-id {{.cbuid}} :kind {{.kind}})`,
	}
}

func TestExpand_InvokeSplicesExpandedStatements(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(attachDoc()))

	prog, err := ast.Parse(`
(cbu.create :name "Acme Corp" :as @cbu)
(template.invoke :id "attach-doc" :params {:kind "passport", :cbuid @cbu})
`)
	require.NoError(t, err)

	expanded, audits, err := Expand(prog, reg, DefaultLimits())
	require.NoError(t, err)
	require.Len(t, expanded.Statements, 2)
	assert.Equal(t, "cbu.create", expanded.Statements[0].Verb.VerbFQN)
	assert.Equal(t, "document.attach", expanded.Statements[1].Verb.VerbFQN)

	kindArg, ok := expanded.Statements[1].Verb.Arg("kind")
	require.True(t, ok)
	assert.Equal(t, "passport", kindArg.Value.StringVal)

	cbuArg, ok := expanded.Statements[1].Verb.Arg("cbu-id")
	require.True(t, ok)
	assert.Equal(t, ast.KindSymbolRef, cbuArg.Value.Kind)
	assert.Equal(t, "cbu", cbuArg.Value.SymbolName)

	require.Len(t, audits, 1)
	assert.Equal(t, "attach-doc", audits[0].TemplateID)
	assert.Equal(t, []runbook.SubstitutedParam{{Name: "cbuid", Value: "@cbu"}, {Name: "kind", Value: `"passport"`}}, audits[0].SubstitutedParams)
}

func TestExpand_InvokeUnknownTemplateFails(t *testing.T) {
	reg := NewRegistry()
	prog, err := ast.Parse(`(template.invoke :id "missing" :params {:x 1})`)
	require.NoError(t, err)

	_, _, err = Expand(prog, reg, DefaultLimits())
	assert.Error(t, err)
}

func TestExpand_BatchExpandsOncePerSourceElement(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Definition{
		Name: "doc-per-kind",
		Body: `(document.attach :cbu-id @cbu :kind {{.Item}})`,
	}))

	prog, err := ast.Parse(`(template.batch :id "doc-per-kind" :source ["passport", "proof-of-address"])`)
	require.NoError(t, err)

	expanded, audits, err := Expand(prog, reg, DefaultLimits())
	require.NoError(t, err)
	require.Len(t, expanded.Statements, 2)
	require.Len(t, audits, 2)

	kind0, ok := expanded.Statements[0].Verb.Arg("kind")
	require.True(t, ok)
	assert.Equal(t, "passport", kind0.Value.StringVal)

	kind1, ok := expanded.Statements[1].Verb.Arg("kind")
	require.True(t, ok)
	assert.Equal(t, "proof-of-address", kind1.Value.StringVal)
}

func TestExpand_BatchExceedingMaxIterationsFails(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Definition{Name: "t", Body: `(audit.close)`}))

	prog, err := ast.Parse(`(template.batch :id "t" :source ["a", "b", "c"])`)
	require.NoError(t, err)

	_, _, err = Expand(prog, reg, runbook.ExpansionLimits{MaxDepth: 10, MaxTotalLines: 1000, MaxIterationCount: 2})
	assert.Error(t, err)
}

func TestExpand_NonTemplateStatementsPassThroughUnchanged(t *testing.T) {
	reg := NewRegistry()
	prog, err := ast.Parse(`(cbu.create :name "Acme Corp" :as @cbu)`)
	require.NoError(t, err)

	expanded, audits, err := Expand(prog, reg, DefaultLimits())
	require.NoError(t, err)
	require.Len(t, expanded.Statements, 1)
	assert.Empty(t, audits)
}

func TestExpand_DepthLimitExceeded(t *testing.T) {
	reg := NewRegistry()
	// A template whose own body re-invokes itself: recursion never
	// terminates without the depth guard.
	require.NoError(t, reg.Register(&Definition{
		Name: "recursive",
		Body: `(template.invoke :id "recursive" :params {})`,
	}))

	prog, err := ast.Parse(`(template.invoke :id "recursive" :params {})`)
	require.NoError(t, err)

	_, _, err = Expand(prog, reg, runbook.ExpansionLimits{MaxDepth: 3, MaxTotalLines: 1000, MaxIterationCount: 10})
	assert.Error(t, err)
}
