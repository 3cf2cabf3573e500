package ontology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[entity.cbu]
category = "client_business_unit"
db_schema = "dsl-ob-poc"
db_table = "cbus"
pk_column = "cbu_id"

[entity.cbu.lifecycle]
states = ["draft", "active", "closed"]
initial_state = "draft"
status_column = "status"

[[entity.cbu.lifecycle.transitions]]
from = "draft"
to = "active"

[entity.cbu.implicit_create]
allowed = true
canonical_verb = "cbu.create"
required_args = ["name", "client-type", "jurisdiction"]

[entity.client_business_unit]
alias_for = "cbu"

[entity.proper_person_natural]
category = "natural_person"
db_schema = "dsl-ob-poc"
db_table = "entities"
pk_column = "entity_id"

[[fk]]
parent_type = "cbu"
child_type = "proper_person_natural"
fk_arg_name = "cbu-id"

[reference.jurisdiction]
[reference.jurisdiction.entries]
GB = "United Kingdom"
US = "United States"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ontology.toml"), []byte(sampleTOML), 0o644))
	return dir
}

func TestLoad_ParsesEntitiesAndFKs(t *testing.T) {
	dir := writeSample(t)
	o, err := Load(dir)
	require.NoError(t, err)

	def, ok := o.EntityDef("cbu")
	require.True(t, ok)
	require.Equal(t, "cbus", def.DBTable)
	require.True(t, def.ImplicitCreate.Allowed)
	require.Equal(t, "cbu.create", def.ImplicitCreate.CanonicalVerb)

	fks := o.FKsForChild("proper_person_natural")
	require.Len(t, fks, 1)
	require.Equal(t, "cbu", fks[0].ParentType)

	rt, ok := o.ReferenceTable("jurisdiction")
	require.True(t, ok)
	require.Equal(t, "United Kingdom", rt.Entries["GB"])
}

func TestResolveAlias_CollapsesToCanonical(t *testing.T) {
	dir := writeSample(t)
	o, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, "cbu", o.ResolveAlias("client_business_unit"))
	require.Equal(t, "cbu", o.ResolveAlias("cbu"))

	def, ok := o.EntityDef("client_business_unit")
	require.True(t, ok)
	require.Equal(t, "cbus", def.DBTable)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
