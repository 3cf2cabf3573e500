// Package registry implements the semantic registry: the immutable,
// content-addressed snapshot model, the active-set pointer, the
// ChangeSet publish pipeline, and a cached read-optimized view for the
// compiler's frequent FQN lookups. Storage is abstracted behind the
// Store capability set — a narrow repository interface with an
// in-memory implementation for tests and a SQL-backed implementation
// for production; this package never imports database/sql directly.
package registry

import (
	"time"

	"dsl-ob-poc/internal/abac"
)

// ObjectType discriminates the kind of ontology object a Snapshot
// carries.
type ObjectType string

const (
	ObjectAttributeDef       ObjectType = "attribute_def"
	ObjectVerbContract       ObjectType = "verb_contract"
	ObjectTaxonomyDef        ObjectType = "taxonomy_def"
	ObjectPolicyRule         ObjectType = "policy_rule"
	ObjectDerivationSpec     ObjectType = "derivation_spec"
	ObjectViewDef            ObjectType = "view_def"
	ObjectEvidenceReqmt      ObjectType = "evidence_requirement"
	ObjectDocumentTypeDef    ObjectType = "document_type_def"
	ObjectMembershipRule     ObjectType = "membership_rule"
	ObjectEntityTypeDef      ObjectType = "entity_type_def"
	ObjectRelationshipTypeDef ObjectType = "relationship_type_def"
	ObjectObservationDef     ObjectType = "observation_def"
)

// Status is the snapshot lifecycle stage.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusRetired    Status = "retired"
)

// GovernanceTier distinguishes objects requiring an approval gate from
// those that are auto-approved.
type GovernanceTier string

const (
	TierGoverned   GovernanceTier = "governed"
	TierOperational GovernanceTier = "operational"
)

// TrustClass is the graduated trust assigned to a registry object.
// Invariant: TrustProof is only permitted on TierGoverned.
type TrustClass string

const (
	TrustProof           TrustClass = "proof"
	TrustDecisionSupport TrustClass = "decision_support"
	TrustConvenience     TrustClass = "convenience"
)

// ChangeType classifies how a snapshot relates to its predecessor.
type ChangeType string

const (
	ChangeCreated     ChangeType = "created"
	ChangeNonBreaking ChangeType = "non_breaking"
	ChangeBreaking    ChangeType = "breaking"
	ChangePromotion   ChangeType = "promotion"
	ChangeDeprecation ChangeType = "deprecation"
	ChangeRetirement  ChangeType = "retirement"
)

// Snapshot is one immutable, content-addressed version of a
// governance-relevant object.
type Snapshot struct {
	SnapshotID    string
	SnapshotSetID string
	ObjectType    ObjectType
	ObjectID      string
	VersionMajor  int
	VersionMinor  int
	Status        Status
	GovernanceTier GovernanceTier
	TrustClass    TrustClass
	SecurityLabel abac.SecurityLabel
	EffectiveFrom time.Time
	EffectiveUntil *time.Time
	PredecessorID *string
	ChangeType    ChangeType
	// Definition is the JSON body shaped by ObjectType; kept untyped at
	// this layer since each object_type's shape is consumed by a
	// different stage (validator, compiler, executor).
	Definition map[string]any
}

// FQN is the fully qualified name a snapshot is addressed by within
// its object_type namespace (e.g. "attr.identity.first_name",
// "verb.cbu.create").
func (s Snapshot) FQN() string {
	if fqn, ok := s.Definition["fqn"].(string); ok {
		return fqn
	}
	return s.ObjectID
}

// ValidateInvariants checks the structural invariant that a proof-class
// snapshot must carry governed tier.
func (s Snapshot) ValidateInvariants() error {
	if s.TrustClass == TrustProof && s.GovernanceTier != TierGoverned {
		return errProofRequiresGoverned(s.ObjectID)
	}
	return nil
}

// ActiveSnapshotSet names the production snapshot_set_id.
type ActiveSnapshotSet struct {
	SnapshotSetID string
	PublishedAt   time.Time
	PublishedBy   string
}

// ArtifactType discriminates the content-hashing/canonicalization rule
// applied to a changeset artifact.
type ArtifactType string

const (
	ArtifactAttributeJSON  ArtifactType = "attribute_json"
	ArtifactTaxonomyJSON   ArtifactType = "taxonomy_json"
	ArtifactDocJSON        ArtifactType = "doc_json"
	ArtifactVerbYAML       ArtifactType = "verb_yaml"
	ArtifactMigrationSQL   ArtifactType = "migration_sql"
	ArtifactMigrationDownSQL ArtifactType = "migration_down_sql"
)

// Artifact is one file-shaped member of a ChangeSet bundle.
type Artifact struct {
	ArtifactType ArtifactType
	Ordinal      int
	Path         string
	Content      string
}

// Manifest is the bundle-level metadata hashed alongside its
// artifacts.
type Manifest struct {
	Title       string
	Description string
	Snapshots   []Snapshot
}

// ChangeSetPhase tracks the publish pipeline's progress.
type ChangeSetPhase string

const (
	PhaseProposed  ChangeSetPhase = "proposed"
	PhaseValidated ChangeSetPhase = "validated"
	PhaseDryRun    ChangeSetPhase = "dry_run"
	PhasePlanned   ChangeSetPhase = "planned"
	PhasePublished ChangeSetPhase = "published"
	PhaseRolledBack ChangeSetPhase = "rolled_back"
)

// ReviewDecision records a governed-tier approval/rejection, the
// governed-boundary approval gate a ChangeSet passes through before
// publish.
type ReviewDecision struct {
	ChangeSetID string
	Approver    string
	Approved    bool
	Reason      string
	DecidedAt   time.Time
}

// ChangeSet is a content-hashed bundle of snapshots transitioning
// through validate -> dry-run -> plan -> publish.
type ChangeSet struct {
	ID          string
	ContentHash string
	Manifest    Manifest
	Artifacts   []Artifact
	Phase       ChangeSetPhase
	Plan        *Plan
	ProposedAt  time.Time
	Reviews     []ReviewDecision
}

// PlanDelta classifies one snapshot's change in a structural diff.
type PlanDelta struct {
	ObjectID   string
	ObjectType ObjectType
	Kind       string // "added" | "modified" | "removed" | "migration"
	Breaking   bool
	Reason     string
}

// Plan is the structural diff against the active set computed by
// plan_publish.
type Plan struct {
	Added           []PlanDelta
	Modified        []PlanDelta
	Removed         []PlanDelta
	BreakingChanges []PlanDelta
}

// IsBreaking reports whether the plan contains any breaking change.
func (p *Plan) IsBreaking() bool {
	return len(p.BreakingChanges) > 0
}

// CachedViewEntry is one row of the compiler's frequent FQN -> summary
// lookup table: FQN -> { object_type, status, governance_tier,
// trust_class, pii, classification }.
type CachedViewEntry struct {
	FQN            string
	ObjectType     ObjectType
	Status         Status
	GovernanceTier GovernanceTier
	TrustClass     TrustClass
	PII            bool
	Classification abac.Classification
	SnapshotID     string
}
