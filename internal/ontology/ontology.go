// Package ontology holds the entity taxonomy, FK graph, and reference
// tables consulted by the validator and compiler: EntityDef,
// FkRelationship, and ReferenceTable, loaded from TOML configuration
// and pinned per compile so in-flight compilations never observe a
// concurrent hot-reload.
package ontology

import "strings"

// Lifecycle describes the legal state machine for an entity type.
type Lifecycle struct {
	States       []string          `toml:"states"`
	Transitions  []Transition      `toml:"transitions"`
	InitialState string            `toml:"initial_state"`
	StatusColumn string            `toml:"status_column"`
}

// Transition is one legal state-machine edge.
type Transition struct {
	From string `toml:"from"`
	To   string `toml:"to"`
}

// CanTransition reports whether from->to is a legal lifecycle edge.
func (l Lifecycle) CanTransition(from, to string) bool {
	for _, t := range l.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// ImplicitCreate describes whether and how the compiler may synthesize
// a producer for a referenced-but-unbound symbol of this entity type.
type ImplicitCreate struct {
	Allowed               bool     `toml:"allowed"`
	CanonicalVerb         string   `toml:"canonical_verb"`
	CanonicalVerbPattern  string   `toml:"canonical_verb_pattern"`
	RequiredArgs          []string `toml:"required_args"`
}

// EntityDef is one node of the entity taxonomy.
type EntityDef struct {
	Name           string         `toml:"-"`
	Category       string         `toml:"category"`
	DBSchema       string         `toml:"db_schema"`
	DBTable        string         `toml:"db_table"`
	PKColumn       string         `toml:"pk_column"`
	Lifecycle      Lifecycle      `toml:"lifecycle"`
	ImplicitCreate ImplicitCreate `toml:"implicit_create"`
	ParentType     string         `toml:"parent_type"`
	AliasFor       string         `toml:"alias_for"`
}

// FkRelationship is one edge of the directed FK graph consulted to
// synthesize producer links and to enforce write-set boundaries.
type FkRelationship struct {
	ParentType string `toml:"parent_type"`
	ChildType  string `toml:"child_type"`
	FkArgName  string `toml:"fk_arg_name"`
}

// ReferenceTable is a stable-key enumeration (jurisdictions, document
// types, regulator codes, ...).
type ReferenceTable struct {
	Name    string            `toml:"-"`
	Entries map[string]string `toml:"entries"`
}

// file is the raw TOML document shape.
type file struct {
	Entity    map[string]EntityDef    `toml:"entity"`
	Fk        []FkRelationship        `toml:"fk"`
	Reference map[string]ReferenceTable `toml:"reference"`
}

// Ontology is an immutable, fully-resolved snapshot of the entity
// taxonomy, FK graph, and reference tables. A compile pins one
// instance for its entire duration.
type Ontology struct {
	entities   map[string]EntityDef
	fks        []FkRelationship
	references map[string]ReferenceTable
	// fkByChild indexes fks by child type for producer-graph lookups.
	fkByChild map[string][]FkRelationship
}

// EntityDef returns the canonicalized entity definition for name, or
// false if unknown. Alias resolution happens here: callers never need
// to call ResolveAlias first.
func (o *Ontology) EntityDef(name string) (EntityDef, bool) {
	def, ok := o.entities[o.ResolveAlias(name)]
	return def, ok
}

// ResolveAlias canonicalizes an entity type name, collapsing
// alias_for chains to the canonical name. This is the canonicalization
// the advisory-lock key hash is computed over: write-set keys
// canonicalize to ontology-resolved names before hashing.
func (o *Ontology) ResolveAlias(name string) string {
	seen := map[string]bool{}
	cur := name
	for {
		if seen[cur] {
			return cur // alias cycle guard; config error, not a panic path
		}
		seen[cur] = true
		def, ok := o.entities[cur]
		if !ok || def.AliasFor == "" || def.AliasFor == cur {
			return cur
		}
		cur = def.AliasFor
	}
}

// FKsForChild returns the FK relationships whose child_type matches
// the canonicalized name.
func (o *Ontology) FKsForChild(childType string) []FkRelationship {
	return o.fkByChild[o.ResolveAlias(childType)]
}

// ReferenceTable returns the named enumeration.
func (o *Ontology) ReferenceTable(name string) (ReferenceTable, bool) {
	rt, ok := o.references[strings.ToLower(name)]
	return rt, ok
}

func newOntology(f file) *Ontology {
	o := &Ontology{
		entities:   make(map[string]EntityDef, len(f.Entity)),
		fks:        f.Fk,
		references: make(map[string]ReferenceTable, len(f.Reference)),
		fkByChild:  make(map[string][]FkRelationship),
	}
	for name, def := range f.Entity {
		def.Name = name
		o.entities[name] = def
	}
	for name, rt := range f.Reference {
		rt.Name = name
		o.references[strings.ToLower(name)] = rt
	}
	for _, fk := range f.Fk {
		o.fkByChild[fk.ChildType] = append(o.fkByChild[fk.ChildType], fk)
	}
	return o
}
