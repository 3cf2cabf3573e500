package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"dsl-ob-poc/internal/apperrors"
)

// DryRunner applies a changeset's migration artifacts to a scratch
// schema and reports the first SQL error encountered, if any. The
// Postgres-backed implementation lives in internal/store; a no-op
// DryRunner is adequate wherever tests do not need to exercise actual
// DDL application.
type DryRunner interface {
	Apply(ctx context.Context, artifacts []Artifact) error
}

// NoopDryRunner always succeeds; used by compiler/validator unit
// tests that exercise the publish pipeline without a database.
type NoopDryRunner struct{}

func (NoopDryRunner) Apply(context.Context, []Artifact) error { return nil }

// Publisher drives a ChangeSet through validate -> dry-run -> plan ->
// publish -> rollback.
type Publisher struct {
	store Store
	dry   DryRunner
	log   logr.Logger
}

// NewPublisher constructs a Publisher over store, applying dry-runs
// via dry.
func NewPublisher(store Store, dry DryRunner, log logr.Logger) *Publisher {
	return &Publisher{store: store, dry: dry, log: log}
}

// Propose computes the bundle's content hash and persists it in the
// "proposed" phase.
func (p *Publisher) Propose(ctx context.Context, id string, manifest Manifest, artifacts []Artifact) (ChangeSet, error) {
	hash, err := ComputeContentHash(manifest, artifacts)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("computing content hash: %w", err)
	}
	cs := ChangeSet{
		ID:          id,
		ContentHash: hash,
		Manifest:    manifest,
		Artifacts:   artifacts,
		Phase:       PhaseProposed,
		ProposedAt:  time.Now(),
	}
	if err := p.store.PutChangeSet(ctx, cs); err != nil {
		return ChangeSet{}, err
	}
	return cs, nil
}

// Validate checks referenced FQN integrity, required fields, and that
// every dependency FQN resolves within the bundle or the active set.
func (p *Publisher) Validate(ctx context.Context, id string) (ChangeSet, error) {
	cs, ok, err := p.store.GetChangeSet(ctx, id)
	if err != nil {
		return ChangeSet{}, err
	}
	if !ok {
		return ChangeSet{}, apperrors.New(apperrors.KindNotFound, "changeset %s not found", id)
	}

	bundleFQNs := make(map[string]bool, len(cs.Manifest.Snapshots))
	for _, s := range cs.Manifest.Snapshots {
		if s.ObjectID == "" {
			return ChangeSet{}, apperrors.New(apperrors.KindInvalidInput, "snapshot missing object_id in changeset %s", id)
		}
		if err := s.ValidateInvariants(); err != nil {
			return ChangeSet{}, err
		}
		bundleFQNs[s.FQN()] = true
	}

	active, hasActive, err := p.store.GetActiveSet(ctx)
	if err != nil {
		return ChangeSet{}, err
	}
	var activeSnaps []Snapshot
	if hasActive {
		activeSnaps, err = p.store.ListSnapshots(ctx, active.SnapshotSetID)
		if err != nil {
			return ChangeSet{}, err
		}
	}
	activeFQNs := make(map[string]bool, len(activeSnaps))
	for _, s := range activeSnaps {
		activeFQNs[s.FQN()] = true
	}

	for _, s := range cs.Manifest.Snapshots {
		for _, dep := range dependencyFQNs(s) {
			if !bundleFQNs[dep] && !activeFQNs[dep] {
				return ChangeSet{}, apperrors.New(apperrors.KindInvalidInput,
					"snapshot %s depends on unresolvable FQN %q", s.ObjectID, dep)
			}
		}
	}

	cs.Phase = PhaseValidated
	if err := p.store.PutChangeSet(ctx, cs); err != nil {
		return ChangeSet{}, err
	}
	return cs, nil
}

// dependencyFQNs reads a conventional "depends_on" array out of a
// snapshot's untyped Definition body, if present.
func dependencyFQNs(s Snapshot) []string {
	raw, ok := s.Definition["depends_on"]
	if !ok {
		return nil
	}
	list, ok := raw.([]string)
	if ok {
		return list
	}
	if anyList, ok := raw.([]any); ok {
		out := make([]string, 0, len(anyList))
		for _, v := range anyList {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// DryRun applies the changeset's migration artifacts to a scratch
// schema, aborting on any SQL error.
func (p *Publisher) DryRun(ctx context.Context, id string) (ChangeSet, error) {
	cs, ok, err := p.store.GetChangeSet(ctx, id)
	if err != nil {
		return ChangeSet{}, err
	}
	if !ok {
		return ChangeSet{}, apperrors.New(apperrors.KindNotFound, "changeset %s not found", id)
	}
	if cs.Phase != PhaseValidated {
		return ChangeSet{}, apperrors.New(apperrors.KindConflict, "changeset %s must be validated before dry-run (phase=%s)", id, cs.Phase)
	}

	if err := p.dry.Apply(ctx, cs.Artifacts); err != nil {
		return ChangeSet{}, apperrors.Wrap(apperrors.KindInvalidInput, err, "dry-run application failed for changeset %s", id)
	}

	cs.Phase = PhaseDryRun
	if err := p.store.PutChangeSet(ctx, cs); err != nil {
		return ChangeSet{}, err
	}
	return cs, nil
}

var breakingSQLPattern = regexp.MustCompile(`(?i)\b(DROP TABLE|DROP COLUMN|ALTER COLUMN|RENAME TABLE)\b`)

// PlanPublish computes the structural diff against the current active
// set: added, modified, removed, and breaking_changes.
func (p *Publisher) PlanPublish(ctx context.Context, id string) (ChangeSet, error) {
	cs, ok, err := p.store.GetChangeSet(ctx, id)
	if err != nil {
		return ChangeSet{}, err
	}
	if !ok {
		return ChangeSet{}, apperrors.New(apperrors.KindNotFound, "changeset %s not found", id)
	}
	if cs.Phase != PhaseDryRun {
		return ChangeSet{}, apperrors.New(apperrors.KindConflict, "changeset %s must complete dry-run before planning (phase=%s)", id, cs.Phase)
	}

	active, hasActive, err := p.store.GetActiveSet(ctx)
	if err != nil {
		return ChangeSet{}, err
	}
	var activeSnaps []Snapshot
	if hasActive {
		activeSnaps, err = p.store.ListSnapshots(ctx, active.SnapshotSetID)
		if err != nil {
			return ChangeSet{}, err
		}
	}
	activeByObjectID := make(map[string]Snapshot, len(activeSnaps))
	for _, s := range activeSnaps {
		activeByObjectID[s.ObjectID] = s
	}
	bundleByObjectID := make(map[string]bool, len(cs.Manifest.Snapshots))

	plan := &Plan{}
	for _, s := range cs.Manifest.Snapshots {
		bundleByObjectID[s.ObjectID] = true
		prior, existed := activeByObjectID[s.ObjectID]
		if !existed {
			plan.Added = append(plan.Added, PlanDelta{ObjectID: s.ObjectID, ObjectType: s.ObjectType, Kind: "added"})
			continue
		}
		delta := PlanDelta{ObjectID: s.ObjectID, ObjectType: s.ObjectType, Kind: "modified"}
		if attributeDataTypeChanged(prior, s) {
			delta.Breaking = true
			delta.Reason = "attribute data_type changed"
		}
		plan.Modified = append(plan.Modified, delta)
		if delta.Breaking {
			plan.BreakingChanges = append(plan.BreakingChanges, delta)
		}
	}
	for objectID, prior := range activeByObjectID {
		if bundleByObjectID[objectID] {
			continue
		}
		delta := PlanDelta{ObjectID: objectID, ObjectType: prior.ObjectType, Kind: "removed", Breaking: true, Reason: "removal is always breaking"}
		plan.Removed = append(plan.Removed, delta)
		plan.BreakingChanges = append(plan.BreakingChanges, delta)
	}
	for _, a := range cs.Artifacts {
		if (a.ArtifactType == ArtifactMigrationSQL || a.ArtifactType == ArtifactMigrationDownSQL) && breakingSQLPattern.MatchString(a.Content) {
			plan.BreakingChanges = append(plan.BreakingChanges, PlanDelta{
				ObjectID: a.Path,
				Kind:     "migration",
				Breaking: true,
				Reason:   "migration SQL contains a breaking DDL statement",
			})
		}
	}

	cs.Plan = plan
	cs.Phase = PhasePlanned
	if err := p.store.PutChangeSet(ctx, cs); err != nil {
		return ChangeSet{}, err
	}
	return cs, nil
}

func attributeDataTypeChanged(prior, next Snapshot) bool {
	if prior.ObjectType != ObjectAttributeDef || next.ObjectType != ObjectAttributeDef {
		return false
	}
	pt, _ := prior.Definition["data_type"].(string)
	nt, _ := next.Definition["data_type"].(string)
	return pt != nt
}

// Publish writes the changeset's snapshots and atomically swaps the
// active-set pointer. A governed-tier changeset with an
// outstanding (or rejected) review is refused.
func (p *Publisher) Publish(ctx context.Context, id string, publishedBy string) (ChangeSet, error) {
	cs, ok, err := p.store.GetChangeSet(ctx, id)
	if err != nil {
		return ChangeSet{}, err
	}
	if !ok {
		return ChangeSet{}, apperrors.New(apperrors.KindNotFound, "changeset %s not found", id)
	}
	if cs.Phase != PhasePlanned {
		return ChangeSet{}, apperrors.New(apperrors.KindConflict, "changeset %s must be planned before publish (phase=%s)", id, cs.Phase)
	}

	if requiresReview(cs) && !hasApproval(cs) {
		return ChangeSet{}, apperrors.New(apperrors.KindGateFailed, "changeset %s contains governed-tier snapshots and has no recorded approval", id)
	}

	newSetID := "snapset-" + cs.ContentHash[:16]
	snapshots := make([]Snapshot, len(cs.Manifest.Snapshots))
	for i, s := range cs.Manifest.Snapshots {
		s.SnapshotSetID = newSetID
		snapshots[i] = s
	}
	if err := p.store.PutSnapshots(ctx, snapshots); err != nil {
		return ChangeSet{}, err
	}
	if err := p.store.SetActiveSet(ctx, ActiveSnapshotSet{SnapshotSetID: newSetID, PublishedAt: time.Now(), PublishedBy: publishedBy}); err != nil {
		return ChangeSet{}, err
	}

	cs.Phase = PhasePublished
	if err := p.store.PutChangeSet(ctx, cs); err != nil {
		return ChangeSet{}, err
	}
	p.log.Info("changeset published", "changeset_id", id, "snapshot_set_id", newSetID, "breaking", cs.Plan.IsBreaking())
	return cs, nil
}

func requiresReview(cs ChangeSet) bool {
	for _, s := range cs.Manifest.Snapshots {
		if s.GovernanceTier == TierGoverned {
			return true
		}
	}
	return false
}

func hasApproval(cs ChangeSet) bool {
	for _, r := range cs.Reviews {
		if r.Approved {
			return true
		}
	}
	return false
}

// RecordReviewDecision persists a governed-tier approval/rejection
// against a changeset.
func (p *Publisher) RecordReviewDecision(ctx context.Context, id, approver string, approved bool, reason string) error {
	return p.store.PutReviewDecision(ctx, ReviewDecision{
		ChangeSetID: id,
		Approver:    approver,
		Approved:    approved,
		Reason:      reason,
		DecidedAt:   time.Now(),
	})
}

// Rollback overwrites the active-set pointer with a prior snapshot set
// id.
func (p *Publisher) Rollback(ctx context.Context, targetSnapshotSetID, actor string) error {
	if strings.TrimSpace(targetSnapshotSetID) == "" {
		return apperrors.New(apperrors.KindInvalidInput, "rollback target snapshot_set_id must not be empty")
	}
	if _, err := p.store.ListSnapshots(ctx, targetSnapshotSetID); err != nil {
		return err
	}
	return p.store.SetActiveSet(ctx, ActiveSnapshotSet{SnapshotSetID: targetSnapshotSetID, PublishedAt: time.Now(), PublishedBy: actor})
}

// PublishBatch applies Publish to each id in order, stopping at the
// first failure.
func (p *Publisher) PublishBatch(ctx context.Context, ids []string, publishedBy string) ([]ChangeSet, error) {
	out := make([]ChangeSet, 0, len(ids))
	for _, id := range ids {
		cs, err := p.Publish(ctx, id, publishedBy)
		if err != nil {
			return out, fmt.Errorf("publishing changeset %s: %w", id, err)
		}
		out = append(out, cs)
	}
	return out, nil
}
