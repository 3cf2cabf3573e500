package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeContentHash_InvariantUnderArtifactReordering(t *testing.T) {
	manifest := Manifest{Title: "onboarding-core v3"}
	a1 := Artifact{ArtifactType: ArtifactAttributeJSON, Ordinal: 1, Path: "attr/first_name.json", Content: `{"name":"first_name","type":"string"}`}
	a2 := Artifact{ArtifactType: ArtifactDocJSON, Ordinal: 1, Path: "doc/passport.json", Content: `{"type":"PASSPORT"}`}

	h1, err := ComputeContentHash(manifest, []Artifact{a1, a2})
	require.NoError(t, err)
	h2, err := ComputeContentHash(manifest, []Artifact{a2, a1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestComputeContentHash_InvariantUnderJSONKeyReordering(t *testing.T) {
	manifest := Manifest{Title: "t"}
	a1 := Artifact{ArtifactType: ArtifactAttributeJSON, Ordinal: 1, Path: "a.json", Content: `{"b":1,"a":2}`}
	a2 := Artifact{ArtifactType: ArtifactAttributeJSON, Ordinal: 1, Path: "a.json", Content: `{"a":2,"b":1}`}

	h1, err := ComputeContentHash(manifest, []Artifact{a1})
	require.NoError(t, err)
	h2, err := ComputeContentHash(manifest, []Artifact{a2})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestComputeContentHash_InvariantUnderLineEndingNormalization(t *testing.T) {
	manifest := Manifest{Title: "t"}
	a1 := Artifact{ArtifactType: ArtifactMigrationSQL, Ordinal: 1, Path: "m.sql", Content: "CREATE TABLE x (\r\n  id uuid\r\n);\r\n"}
	a2 := Artifact{ArtifactType: ArtifactMigrationSQL, Ordinal: 1, Path: "m.sql", Content: "CREATE TABLE x (\n  id uuid\n);\n"}

	h1, err := ComputeContentHash(manifest, []Artifact{a1})
	require.NoError(t, err)
	h2, err := ComputeContentHash(manifest, []Artifact{a2})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestComputeContentHash_DifferentContentDiffers(t *testing.T) {
	manifest := Manifest{Title: "t"}
	a1 := Artifact{ArtifactType: ArtifactAttributeJSON, Ordinal: 1, Path: "a.json", Content: `{"a":1}`}
	a2 := Artifact{ArtifactType: ArtifactAttributeJSON, Ordinal: 1, Path: "a.json", Content: `{"a":2}`}

	h1, err := ComputeContentHash(manifest, []Artifact{a1})
	require.NoError(t, err)
	h2, err := ComputeContentHash(manifest, []Artifact{a2})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestComputeContentHash_TrailingWhitespaceTrimmed(t *testing.T) {
	manifest := Manifest{Title: "t"}
	a1 := Artifact{ArtifactType: ArtifactMigrationSQL, Ordinal: 1, Path: "m.sql", Content: "SELECT 1;   \n"}
	a2 := Artifact{ArtifactType: ArtifactMigrationSQL, Ordinal: 1, Path: "m.sql", Content: "SELECT 1;\n"}

	h1, err := ComputeContentHash(manifest, []Artifact{a1})
	require.NoError(t, err)
	h2, err := ComputeContentHash(manifest, []Artifact{a2})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}
