package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsl-ob-poc/internal/apperrors"
)

func TestParse_HappyPath(t *testing.T) {
	src := `(cbu.create :name "Acme Holdings Ltd" :client-type "corporate" :jurisdiction "GB" :as @cbu)
(entity.create-limited-company :name "Acme Holdings Ltd" :as @co)
(cbu.assign-role :cbu-id @cbu :entity-id @co :role "account_holder")`

	prog, err := Parse(src)
	require.NoError(t, err)
	calls := prog.VerbCalls()
	require.Len(t, calls, 3)

	assert.Equal(t, "cbu.create", calls[0].VerbFQN)
	require.NotNil(t, calls[0].AsBinding)
	assert.Equal(t, "cbu", *calls[0].AsBinding)

	nameArg, ok := calls[0].Arg("name")
	require.True(t, ok)
	assert.Equal(t, KindLiteral, nameArg.Value.Kind)
	assert.Equal(t, LitString, nameArg.Value.LiteralType)
	assert.Equal(t, "Acme Holdings Ltd", nameArg.Value.StringVal)

	roleCall := calls[2]
	cbuIDArg, ok := roleCall.Arg("cbu-id")
	require.True(t, ok)
	assert.Equal(t, KindSymbolRef, cbuIDArg.Value.Kind)
	assert.Equal(t, "cbu", cbuIDArg.Value.SymbolName)
}

func TestParse_Comments(t *testing.T) {
	src := `;; this sets up the CBU
(cbu.create :name "Acme" :client-type "corporate" :jurisdiction "GB" :as @cbu)`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Statements, 2)
	assert.Equal(t, StatementComment, prog.Statements[0].Kind)
	assert.Equal(t, "this sets up the CBU", prog.Statements[0].Comment)
	assert.Equal(t, StatementVerbCall, prog.Statements[1].Kind)
}

func TestParse_DecimalLiteralNotFloat(t *testing.T) {
	src := `(ownership.set :percentage 33.3333 :as @stake)`
	prog, err := Parse(src)
	require.NoError(t, err)
	calls := prog.VerbCalls()
	arg, ok := calls[0].Arg("percentage")
	require.True(t, ok)
	require.Equal(t, LitDecimal, arg.Value.LiteralType)
	assert.Equal(t, "33.3333", arg.Value.DecimalVal.String())
}

func TestParse_MapAndListArguments(t *testing.T) {
	src := `(template.invoke :id "onboard-director" :params {:role "director" :count 2} :sources [@a @b] :as @result)`
	prog, err := Parse(src)
	require.NoError(t, err)
	call := prog.VerbCalls()[0]

	params, ok := call.Arg("params")
	require.True(t, ok)
	require.Equal(t, KindMap, params.Value.Kind)
	require.Len(t, params.Value.Entries, 2)
	assert.Equal(t, "role", params.Value.Entries[0].Key)

	sources, ok := call.Arg("sources")
	require.True(t, ok)
	require.Equal(t, KindList, sources.Value.Kind)
	require.Len(t, sources.Value.Items, 2)
	assert.Equal(t, KindSymbolRef, sources.Value.Items[0].Kind)
}

func TestParse_NestedExpressionArgument(t *testing.T) {
	src := `(kyc.open-case :cbu-id @existing_cbu :escalation (kyc.severity :level "high") :as @case)`
	prog, err := Parse(src)
	require.NoError(t, err)
	call := prog.VerbCalls()[0]
	esc, ok := call.Arg("escalation")
	require.True(t, ok)
	require.Equal(t, KindNested, esc.Value.Kind)
	assert.Equal(t, "kyc.severity", esc.Value.Nested.VerbFQN)
}

func TestParse_UnterminatedExpressionIsSyntaxError(t *testing.T) {
	_, err := Parse(`(cbu.create :name "Acme"`)
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindSyntaxError, appErr.Kind)
}

func TestParse_AsMustBindSymbol(t *testing.T) {
	_, err := Parse(`(cbu.create :name "Acme" :as "not-a-symbol")`)
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindSyntaxError, appErr.Kind)
}

func TestParse_CycleInputParsesStructurallyFine(t *testing.T) {
	// Scenario 5: the cycle itself is a compiler-stage concern, not a
	// parse error — both statements are syntactically well-formed.
	src := `(entity.link :parent-id @b :child-id @a :as @a)
(entity.link :parent-id @a :child-id @b :as @b)`
	prog, err := Parse(src)
	require.NoError(t, err)
	assert.Len(t, prog.VerbCalls(), 2)
}
