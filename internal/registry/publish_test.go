package registry

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsl-ob-poc/internal/apperrors"
)

func verbSnapshot(objectID, fqn string, tier GovernanceTier, trust TrustClass) Snapshot {
	return Snapshot{
		SnapshotID:     "snap-" + objectID,
		ObjectType:     ObjectVerbContract,
		ObjectID:       objectID,
		Status:         StatusActive,
		GovernanceTier: tier,
		TrustClass:     trust,
		ChangeType:     ChangeCreated,
		Definition:     map[string]any{"fqn": fqn},
	}
}

func TestPublishPipeline_HappyPath(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	pub := NewPublisher(store, NoopDryRunner{}, logr.Discard())

	manifest := Manifest{Title: "bootstrap", Snapshots: []Snapshot{
		verbSnapshot("verb.cbu.create", "cbu.create", TierOperational, TrustConvenience),
	}}
	artifacts := []Artifact{{ArtifactType: ArtifactVerbYAML, Ordinal: 1, Path: "verbs/cbu.create.yaml", Content: "name: cbu.create\n"}}

	cs, err := pub.Propose(ctx, "cs-1", manifest, artifacts)
	require.NoError(t, err)
	assert.Equal(t, PhaseProposed, cs.Phase)

	cs, err = pub.Validate(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseValidated, cs.Phase)

	cs, err = pub.DryRun(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseDryRun, cs.Phase)

	cs, err = pub.PlanPublish(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, PhasePlanned, cs.Phase)
	require.Len(t, cs.Plan.Added, 1)
	assert.False(t, cs.Plan.IsBreaking())

	cs, err = pub.Publish(ctx, cs.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, PhasePublished, cs.Phase)

	active, ok, err := store.GetActiveSet(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	snap, ok, err := store.GetSnapshot(ctx, active.SnapshotSetID, ObjectVerbContract, "cbu.create")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "verb.cbu.create", snap.ObjectID)
}

func TestPublish_ProofWithoutGovernedTierRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	pub := NewPublisher(store, NoopDryRunner{}, logr.Discard())

	manifest := Manifest{Title: "bad bundle", Snapshots: []Snapshot{
		verbSnapshot("verb.bad", "bad.verb", TierOperational, TrustProof),
	}}
	cs, err := pub.Propose(ctx, "cs-bad", manifest, nil)
	require.NoError(t, err)

	_, err = pub.Validate(ctx, cs.ID)
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidInput, appErr.Kind)
}

func TestPlanPublish_RemovalIsBreaking(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	pub := NewPublisher(store, NoopDryRunner{}, logr.Discard())

	first := verbSnapshot("verb.cbu.create", "cbu.create", TierOperational, TrustConvenience)
	first.SnapshotSetID = "set-1"
	require.NoError(t, store.PutSnapshots(ctx, []Snapshot{first}))
	require.NoError(t, store.SetActiveSet(ctx, ActiveSnapshotSet{SnapshotSetID: "set-1"}))

	manifest := Manifest{Title: "removes cbu.create"}
	cs, err := pub.Propose(ctx, "cs-2", manifest, nil)
	require.NoError(t, err)
	cs, err = pub.Validate(ctx, cs.ID)
	require.NoError(t, err)
	cs, err = pub.DryRun(ctx, cs.ID)
	require.NoError(t, err)
	cs, err = pub.PlanPublish(ctx, cs.ID)
	require.NoError(t, err)

	require.Len(t, cs.Plan.Removed, 1)
	assert.True(t, cs.Plan.IsBreaking())
}

func TestPlanPublish_BreakingMigrationSQLDetected(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	pub := NewPublisher(store, NoopDryRunner{}, logr.Discard())

	manifest := Manifest{Title: "drops a column"}
	artifacts := []Artifact{{ArtifactType: ArtifactMigrationSQL, Ordinal: 1, Path: "m.sql", Content: "ALTER TABLE cbus DROP COLUMN legacy_flag;"}}
	cs, err := pub.Propose(ctx, "cs-3", manifest, artifacts)
	require.NoError(t, err)
	cs, err = pub.Validate(ctx, cs.ID)
	require.NoError(t, err)
	cs, err = pub.DryRun(ctx, cs.ID)
	require.NoError(t, err)
	cs, err = pub.PlanPublish(ctx, cs.ID)
	require.NoError(t, err)

	assert.True(t, cs.Plan.IsBreaking())
}

func TestPublish_GovernedTierRequiresApproval(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	pub := NewPublisher(store, NoopDryRunner{}, logr.Discard())

	manifest := Manifest{Title: "governed bundle", Snapshots: []Snapshot{
		verbSnapshot("verb.kyc.open-case", "kyc.open-case", TierGoverned, TrustDecisionSupport),
	}}
	cs, err := pub.Propose(ctx, "cs-4", manifest, nil)
	require.NoError(t, err)
	cs, err = pub.Validate(ctx, cs.ID)
	require.NoError(t, err)
	cs, err = pub.DryRun(ctx, cs.ID)
	require.NoError(t, err)
	cs, err = pub.PlanPublish(ctx, cs.ID)
	require.NoError(t, err)

	_, err = pub.Publish(ctx, cs.ID, "alice")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindGateFailed, appErr.Kind)

	require.NoError(t, pub.RecordReviewDecision(ctx, cs.ID, "compliance-lead", true, "reviewed"))
	_, err = pub.Publish(ctx, cs.ID, "alice")
	require.NoError(t, err)
}

func TestRollback_SwapsActiveSetPointer(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	pub := NewPublisher(store, NoopDryRunner{}, logr.Discard())

	old := verbSnapshot("verb.cbu.create", "cbu.create", TierOperational, TrustConvenience)
	old.SnapshotSetID = "set-old"
	require.NoError(t, store.PutSnapshots(ctx, []Snapshot{old}))
	require.NoError(t, store.SetActiveSet(ctx, ActiveSnapshotSet{SnapshotSetID: "set-new"}))

	require.NoError(t, pub.Rollback(ctx, "set-old", "ops"))

	active, ok, err := store.GetActiveSet(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "set-old", active.SnapshotSetID)
}
