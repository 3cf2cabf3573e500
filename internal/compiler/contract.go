// Package compiler implements the DSL compile pipeline: semantic
// validation (the cross-statement-graph linter), lowering, producer-graph
// construction, implicit-create synthesis, deterministic topological
// ordering, write-set computation, and sealing into a
// runbook.CompiledRunbook. Its compile-stage layering (parse ->
// validate -> lower -> order -> seal) generalizes a dsl-to-SQL
// compilation pipeline to dsl-to-runbook compilation.
package compiler

import (
	"fmt"

	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/registry"
	"dsl-ob-poc/internal/runbook"
)

// ParamKind discriminates the scalar/collection shape a verb parameter
// accepts.
type ParamKind string

const (
	ParamString  ParamKind = "string"
	ParamInteger ParamKind = "integer"
	ParamDecimal ParamKind = "decimal"
	ParamBoolean ParamKind = "boolean"
	ParamUUID    ParamKind = "uuid"
	ParamEntityRef ParamKind = "entity_ref"
	ParamList    ParamKind = "list"
	ParamMap     ParamKind = "map"
)

// ParamSpec is one declared argument of a verb contract.
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Required bool
	// EntityType applies when Kind is ParamEntityRef or ParamUUID and
	// names the ontology entity type the value must resolve against.
	EntityType string
}

// ProducedBinding names an entity a verb call creates, with the
// canonical entity type it belongs to, consumed by producer-graph
// construction and implicit-create synthesis.
type ProducedBinding struct {
	EntityType string
}

// VerbContract is the parsed, typed shape of an ObjectVerbContract
// snapshot's Definition map: parameters, what it produces (for
// :as bindings), what entity types it consumes (for FK/producer
// edges), its execution mode, and its write-set declaration.
type VerbContract struct {
	FQN string
	// SnapshotID and ObjectID identify the specific registry snapshot
	// this contract was resolved from, pinned into the sealed
	// runbook's replay envelope so a later recompile can reproduce the
	// exact snapshot version consulted rather than just the object.
	SnapshotID    string
	ObjectID      string
	Status        registry.Status
	Params        []ParamSpec
	Produces      *ProducedBinding
	ConsumesTypes []string
	ExecutionMode runbook.ExecutionMode
	// WriteSetArgs names the argument keys (resolved against the
	// session's entity bindings or producer output) that this verb's
	// write-set consists of.
	WriteSetArgs []string
	Sentence      string
}

func (c *VerbContract) Param(name string) (ParamSpec, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// ParseVerbContract converts a registry.Snapshot of ObjectType
// ObjectVerbContract into a typed VerbContract. The Definition map
// shape mirrors the verb_yaml artifact's canonicalized JSON: top-level
// "params" (array of {name,kind,required,entity_type}), "produces"
// ({entity_type}), "consumes" ([]string), "execution_mode", "write_set"
// ([]string), "sentence".
func ParseVerbContract(snap registry.Snapshot) (*VerbContract, error) {
	if snap.ObjectType != registry.ObjectVerbContract {
		return nil, fmt.Errorf("snapshot %s is not a verb contract", snap.ObjectID)
	}
	c := &VerbContract{
		FQN:           snap.FQN(),
		SnapshotID:    snap.SnapshotID,
		ObjectID:      snap.ObjectID,
		Status:        snap.Status,
		ExecutionMode: runbook.ModeSync,
	}

	if rawParams, ok := snap.Definition["params"].([]any); ok {
		for _, rp := range rawParams {
			m, ok := rp.(map[string]any)
			if !ok {
				continue
			}
			p := ParamSpec{
				Name:       stringField(m, "name"),
				Kind:       ParamKind(stringField(m, "kind")),
				Required:   boolField(m, "required"),
				EntityType: stringField(m, "entity_type"),
			}
			c.Params = append(c.Params, p)
		}
	}

	if produces, ok := snap.Definition["produces"].(map[string]any); ok {
		c.Produces = &ProducedBinding{EntityType: stringField(produces, "entity_type")}
	}

	if consumes, ok := snap.Definition["consumes"].([]any); ok {
		for _, v := range consumes {
			if s, ok := v.(string); ok {
				c.ConsumesTypes = append(c.ConsumesTypes, s)
			}
		}
	}

	if mode, ok := snap.Definition["execution_mode"].(string); ok && mode != "" {
		c.ExecutionMode = runbook.ExecutionMode(mode)
	}

	if ws, ok := snap.Definition["write_set"].([]any); ok {
		for _, v := range ws {
			if s, ok := v.(string); ok {
				c.WriteSetArgs = append(c.WriteSetArgs, s)
			}
		}
	}

	c.Sentence = stringField(snap.Definition, "sentence")

	return c, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

// ContractResolver is the narrow capability the compiler needs from
// the registry: look up an active verb contract by FQN. Satisfied by
// MapResolver (an in-memory map) and StoreResolver (a registry.Store
// snapshot set).
type ContractResolver interface {
	ResolveVerb(fqn string) (*VerbContract, bool, error)
}

// unknownVerbDiagnostic builds the CSG Linter's check-1 diagnostic.
func unknownVerbDiagnostic(fqn string) *apperrors.Error {
	return apperrors.New(apperrors.KindUnknownVerb, "unknown verb %q", fqn)
}
