package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/registry"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestPutSnapshots_InsertsOnConflictDoNothing(t *testing.T) {
	s, mock := newMockStore(t)

	snap := registry.Snapshot{
		SnapshotID:     "snap-1",
		SnapshotSetID:  "set-1",
		ObjectType:     registry.ObjectVerbContract,
		ObjectID:       "cbu.create",
		VersionMajor:   1,
		GovernanceTier: registry.TierOperational,
		TrustClass:     registry.TrustConvenience,
		SecurityLabel:  abac.SecurityLabel{Classification: abac.Internal},
		EffectiveFrom:  time.Now().Truncate(time.Second),
		ChangeType:     registry.ChangeCreated,
		Definition:     map[string]any{"fqn": "cbu.create"},
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "dsl-ob-poc".snapshots`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.PutSnapshots(context.Background(), []registry.Snapshot{snap})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutSnapshots_RejectsProofWithoutGovernedTier(t *testing.T) {
	s, _ := newMockStore(t)
	snap := registry.Snapshot{
		SnapshotID:     "snap-bad",
		GovernanceTier: registry.TierOperational,
		TrustClass:     registry.TrustProof,
	}
	err := s.PutSnapshots(context.Background(), []registry.Snapshot{snap})
	require.Error(t, err)
}

func TestGetSnapshot_ReturnsLatestVersion(t *testing.T) {
	s, mock := newMockStore(t)

	label, err := json.Marshal(abac.SecurityLabel{Classification: abac.Confidential, PII: true})
	require.NoError(t, err)
	def, err := json.Marshal(map[string]any{"fqn": "cbu.create"})
	require.NoError(t, err)

	cols := []string{
		"snapshot_id", "snapshot_set_id", "object_type", "object_id",
		"version_major", "version_minor", "status", "governance_tier",
		"trust_class", "security_label", "effective_from", "effective_until",
		"predecessor_id", "change_type", "definition",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"snap-2", "set-1", "verb_contract", "cbu.create",
		2, 0, "active", "governed",
		"decision_support", label, time.Now(), nil,
		nil, "non_breaking", def,
	)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT snapshot_id, snapshot_set_id, object_type, object_id`)).
		WithArgs("set-1", "verb_contract", "cbu.create").
		WillReturnRows(rows)

	snap, ok, err := s.GetSnapshot(context.Background(), "set-1", registry.ObjectVerbContract, "cbu.create")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "snap-2", snap.SnapshotID)
	require.True(t, snap.SecurityLabel.PII)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveSet_NoRowsReturnsFalse(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT snapshot_set_id, published_at, published_by`)).
		WillReturnError(sql.ErrNoRows)

	_, ok, err := s.GetActiveSet(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetActiveSet_UpsertsSingleRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "dsl-ob-poc".active_snapshot_set`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SetActiveSet(context.Background(), registry.ActiveSnapshotSet{
		SnapshotSetID: "set-2",
		PublishedAt:   time.Now(),
		PublishedBy:   "ops",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
