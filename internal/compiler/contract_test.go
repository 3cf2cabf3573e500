package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/registry"
	"dsl-ob-poc/internal/session"
)

func TestParseVerbContract_CarriesSnapshotIdentityAndStatus(t *testing.T) {
	snap := registry.Snapshot{
		SnapshotID: "snap-42",
		ObjectID:   "cbu.create",
		ObjectType: registry.ObjectVerbContract,
		Status:     registry.StatusDeprecated,
		Definition: map[string]any{
			"fqn": "cbu.create",
			"params": []any{
				map[string]any{"name": "name", "kind": "string", "required": true},
			},
		},
	}

	c, err := ParseVerbContract(snap)
	require.NoError(t, err)
	assert.Equal(t, "snap-42", c.SnapshotID)
	assert.Equal(t, "cbu.create", c.ObjectID)
	assert.Equal(t, registry.StatusDeprecated, c.Status)
	assert.Equal(t, "cbu.create", c.FQN)
}

func TestCompile_SnapshotManifestPinsObjectToSnapshotVersion(t *testing.T) {
	onto := loadTestOntology(t)
	contract := cbuCreateContract()
	contract.ObjectID = "cbu.create"
	contract.SnapshotID = "snap-7"
	resolver := NewMapResolver(contract)
	sess := session.New("sess-1", "set-1")

	prog, err := ast.Parse(`(cbu.create :name "Acme Corp" :as @cbu)`)
	require.NoError(t, err)

	result, err := Compile(prog, sess, resolver, onto, abac.ActorContext{}, Options{SnapshotSetID: "set-1", Version: 1})
	require.NoError(t, err)
	require.NotNil(t, result.Runbook)

	manifest := result.Runbook.Envelope.Core.SnapshotManifest
	assert.Equal(t, "snap-7", manifest["cbu.create"])
}
