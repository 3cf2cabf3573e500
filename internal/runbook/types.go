// Package runbook defines the CompiledRunbook artifact tree: the
// opaque CompiledRunbookId, the immutable CompiledRunbook and
// CompiledStep shapes, and the ReplayEnvelope core/audit-full split.
package runbook

import (
	"time"

	"github.com/google/uuid"
)

// Id is an opaque UUID wrapper: the only handle the executor accepts.
// It is never constructed except by Seal.
type Id struct {
	uuid.UUID
}

// NewId wraps a raw UUID as a CompiledRunbookId. Exported for store
// deserialization; compiler code should only ever receive an Id from
// Seal.
func NewId(u uuid.UUID) Id { return Id{u} }

func (i Id) String() string { return i.UUID.String() }

// ExecutionMode selects how a step's dispatch suspends (or doesn't).
type ExecutionMode string

const (
	ModeSync      ExecutionMode = "sync"
	ModeDurable   ExecutionMode = "durable"
	ModeHumanGate ExecutionMode = "human_gate"
)

// CompiledStep is one frozen unit of work in a sealed runbook.
type CompiledStep struct {
	StepID        uuid.UUID
	VerbFQN       string
	Args          map[string]string // normalized, deterministic order via ArgKeys()
	DependsOn     []uuid.UUID
	ExecutionMode ExecutionMode
	WriteSet      []WriteSetMember
	Sentence      string
	// SourceStatementIndex ties a step back to its originating
	// statement for CyclicDependency/diagnostic reporting.
	SourceStatementIndex int
	// AsBinding is the symbol name this step's runtime output (a
	// Uuid outcome) binds to, or "" if the call had no :as clause.
	// Not part of the replay envelope's hash input, same as StepID.
	AsBinding string
}

// ArgKeys returns the step's argument keys in sorted order, the
// deterministic order the hash input and any rendering walk them in.
func (s CompiledStep) ArgKeys() []string {
	keys := make([]string, 0, len(s.Args))
	for k := range s.Args {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

// WriteSetMember is one entity a step intends to mutate, identified by
// canonicalized entity type and UUID (or, for a not-yet-known produced
// entity, by its as_binding name instead of a UUID).
type WriteSetMember struct {
	EntityType string
	EntityID   uuid.UUID
	// ProducedBinding is set instead of EntityID when this member names
	// the as-yet-unknown UUID a producing verb will create; dynamic
	// lock escalation resolves it at execution time.
	ProducedBinding string
}

// Key renders the canonical advisory-lock key material: a
// "(entity_type ∥ entity_uuid)" pair string. Canonicalization (alias
// resolution) must already have been applied to EntityType by the
// caller, per the ontology's resolve_alias.
func (w WriteSetMember) Key() string {
	return w.EntityType + "\x00" + w.EntityID.String()
}

// ExternalLookupDigest records one non-deterministic external lookup
// resolved at compile time (e.g. a research-data normalizer result),
// reduced to a sha256 digest for the replay envelope core and kept in
// full (with timestamp) in the audit-full envelope.
type ExternalLookupDigest struct {
	Digest    string
	Source    string
	Timestamp time.Time
	FullRecord map[string]any
}

// MacroExpansionAudit records one template/macro expansion performed
// at compile time.
type MacroExpansionAudit struct {
	TemplateID        string
	Digest            string
	SubstitutedParams []SubstitutedParam // sorted order
	Limits            ExpansionLimits
	Timestamp         time.Time
}

// SubstitutedParam is one parameter substituted into a template body.
type SubstitutedParam struct {
	Name  string
	Value string
}

// ExpansionLimits bounds template expansion so replay can verify they
// have not changed between compile and replay.
type ExpansionLimits struct {
	MaxDepth          int
	MaxTotalLines     int
	MaxIterationCount int
}

// ReplayEnvelopeCore is the deterministic part of the envelope: every
// field here feeds Seal's content-addressed id, together with the
// session id, version, snapshot set id and step contents; no other
// envelope field does.
type ReplayEnvelopeCore struct {
	SessionCursor         uint64
	EntityBindings        []EntityBinding // ordered
	ExternalLookupDigests []string        // sha256 hex, ordered
	MacroAuditDigests     []string        // sha256 hex, ordered
	SnapshotManifest      map[string]string // object_id -> snapshot_id
}

// EntityBinding is one ordered (name, UUID) pair of the envelope
// core's entity_bindings ordered_map.
type EntityBinding struct {
	Name string
	UUID uuid.UUID
}

// ReplayEnvelope is the audit-full envelope: the deterministic core
// plus volatile fields that never feed the hash.
type ReplayEnvelope struct {
	Core                  ReplayEnvelopeCore
	ExternalLookups       []ExternalLookupDigest
	MacroExpansionAudits  []MacroExpansionAudit
	SealedAt              time.Time
}

// StatusKind discriminates CompiledRunbook.Status variants.
type StatusKind string

const (
	StatusCompiled  StatusKind = "compiled"
	StatusExecuting StatusKind = "executing"
	StatusParked    StatusKind = "parked"
	StatusCompleted StatusKind = "completed"
	StatusFailed    StatusKind = "failed"
)

// Status is the CompiledRunbook's mutable lifecycle field; steps and
// envelope are immutable once sealed, only Status advances.
type Status struct {
	Kind               StatusKind
	Cursor             int // step index the executor is at / parked at / failed at
	ParkReason         string
	CorrelationKey     string
	FailureError       string
}

// CompiledRunbook is the central immutable artifact: sealed steps and
// envelope, plus a mutable Status. The sealer is the only path that
// constructs one.
type CompiledRunbook struct {
	Id              Id
	SessionID       string
	Version         uint64
	Steps           []CompiledStep
	Envelope        ReplayEnvelope
	Status          Status
	CreatedAt       time.Time
	SnapshotSetID   string
}

// StepCount returns the number of steps.
func (r *CompiledRunbook) StepCount() int { return len(r.Steps) }

// IsExecutable reports whether execute_runbook may accept this
// runbook: only Compiled or Parked statuses.
func (r *CompiledRunbook) IsExecutable() bool {
	return r.Status.Kind == StatusCompiled || r.Status.Kind == StatusParked
}

// SyntheticStep records one implicit-create synthesis the compiler
// performed, so an LSP layer can show a quick-fix.
type SyntheticStep struct {
	Binding           string
	EntityType        string
	CanonicalVerb     string
	InsertBeforeStmt  int
	SuggestedDSL      string
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
