// Package store is the Postgres-backed implementation of
// registry.Store, the production storage layer behind the semantic
// registry's snapshot model and ChangeSet publish pipeline. Its
// shape -- a PostgresStore{db, tx} carrying BeginTx/Commit/Rollback
// and private getContext/selectContext/queryRowxContext/execContext
// helpers that route through the open transaction when one is set -- is
// adapted directly from the vocabulary repository's conventions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/registry"
)

// PostgresStore implements registry.Store against PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

// New builds a PostgresStore bound directly to db (no open transaction).
func New(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// BeginTx opens a transaction-scoped PostgresStore; callers Commit or
// Rollback it and discard the returned value afterward.
func (r *PostgresStore) BeginTx(ctx context.Context) (*PostgresStore, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &PostgresStore{db: r.db, tx: tx}, nil
}

func (r *PostgresStore) Commit() error {
	if r.tx == nil {
		return fmt.Errorf("no active transaction")
	}
	return r.tx.Commit()
}

func (r *PostgresStore) Rollback() error {
	if r.tx == nil {
		return fmt.Errorf("no active transaction")
	}
	return r.tx.Rollback()
}

func (r *PostgresStore) getContext(ctx context.Context, dest any, query string, args ...any) error {
	if r.tx != nil {
		return r.tx.GetContext(ctx, dest, query, args...)
	}
	return r.db.GetContext(ctx, dest, query, args...)
}

func (r *PostgresStore) selectContext(ctx context.Context, dest any, query string, args ...any) error {
	if r.tx != nil {
		return r.tx.SelectContext(ctx, dest, query, args...)
	}
	return r.db.SelectContext(ctx, dest, query, args...)
}

func (r *PostgresStore) queryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row {
	if r.tx != nil {
		return r.tx.QueryRowxContext(ctx, query, args...)
	}
	return r.db.QueryRowxContext(ctx, query, args...)
}

func (r *PostgresStore) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if r.tx != nil {
		return r.tx.ExecContext(ctx, query, args...)
	}
	return r.db.ExecContext(ctx, query, args...)
}

// snapshotRow is the sqlx scan target for one "dsl-ob-poc".snapshots row.
type snapshotRow struct {
	SnapshotID     string    `db:"snapshot_id"`
	SnapshotSetID  string    `db:"snapshot_set_id"`
	ObjectType     string    `db:"object_type"`
	ObjectID       string    `db:"object_id"`
	VersionMajor   int       `db:"version_major"`
	VersionMinor   int       `db:"version_minor"`
	Status         string    `db:"status"`
	GovernanceTier string    `db:"governance_tier"`
	TrustClass     string    `db:"trust_class"`
	SecurityLabel  []byte    `db:"security_label"`
	EffectiveFrom  time.Time `db:"effective_from"`
	EffectiveUntil *time.Time `db:"effective_until"`
	PredecessorID  *string   `db:"predecessor_id"`
	ChangeType     string    `db:"change_type"`
	Definition     []byte    `db:"definition"`
}

func (row snapshotRow) toSnapshot() (registry.Snapshot, error) {
	var label abac.SecurityLabel
	if err := json.Unmarshal(row.SecurityLabel, &label); err != nil {
		return registry.Snapshot{}, fmt.Errorf("decoding security_label for %s: %w", row.SnapshotID, err)
	}
	var def map[string]any
	if err := json.Unmarshal(row.Definition, &def); err != nil {
		return registry.Snapshot{}, fmt.Errorf("decoding definition for %s: %w", row.SnapshotID, err)
	}
	return registry.Snapshot{
		SnapshotID:     row.SnapshotID,
		SnapshotSetID:  row.SnapshotSetID,
		ObjectType:     registry.ObjectType(row.ObjectType),
		ObjectID:       row.ObjectID,
		VersionMajor:   row.VersionMajor,
		VersionMinor:   row.VersionMinor,
		Status:         registry.Status(row.Status),
		GovernanceTier: registry.GovernanceTier(row.GovernanceTier),
		TrustClass:     registry.TrustClass(row.TrustClass),
		SecurityLabel:  label,
		EffectiveFrom:  row.EffectiveFrom,
		EffectiveUntil: row.EffectiveUntil,
		PredecessorID:  row.PredecessorID,
		ChangeType:     registry.ChangeType(row.ChangeType),
		Definition:     def,
	}, nil
}

// PutSnapshots inserts a batch of immutable snapshots. Snapshots never
// change once written, so a conflicting snapshot_id is left untouched
// rather than overwritten (DO NOTHING, not DO UPDATE).
func (r *PostgresStore) PutSnapshots(ctx context.Context, snaps []registry.Snapshot) error {
	for _, s := range snaps {
		if err := s.ValidateInvariants(); err != nil {
			return err
		}
		label, err := json.Marshal(s.SecurityLabel)
		if err != nil {
			return fmt.Errorf("encoding security_label for %s: %w", s.ObjectID, err)
		}
		def, err := json.Marshal(s.Definition)
		if err != nil {
			return fmt.Errorf("encoding definition for %s: %w", s.ObjectID, err)
		}
		_, err = r.execContext(ctx, `
			INSERT INTO "dsl-ob-poc".snapshots (
				snapshot_id, snapshot_set_id, object_type, object_id,
				version_major, version_minor, status, governance_tier,
				trust_class, security_label, effective_from, effective_until,
				predecessor_id, change_type, definition
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (snapshot_id) DO NOTHING`,
			s.SnapshotID, s.SnapshotSetID, string(s.ObjectType), s.ObjectID,
			s.VersionMajor, s.VersionMinor, string(s.Status), string(s.GovernanceTier),
			string(s.TrustClass), label, s.EffectiveFrom, s.EffectiveUntil,
			s.PredecessorID, string(s.ChangeType), def,
		)
		if err != nil {
			return fmt.Errorf("inserting snapshot %s: %w", s.SnapshotID, err)
		}
	}
	return nil
}

// GetSnapshot looks up the most recent snapshot of objectType/fqn
// within a snapshot set, matching Snapshot.FQN()'s "definition.fqn or
// object_id" fallback and breaking ties on version.
func (r *PostgresStore) GetSnapshot(ctx context.Context, snapshotSetID string, objectType registry.ObjectType, fqn string) (registry.Snapshot, bool, error) {
	var row snapshotRow
	err := r.getContext(ctx, &row, `
		SELECT snapshot_id, snapshot_set_id, object_type, object_id,
			version_major, version_minor, status, governance_tier,
			trust_class, security_label, effective_from, effective_until,
			predecessor_id, change_type, definition
		FROM "dsl-ob-poc".snapshots
		WHERE snapshot_set_id = $1 AND object_type = $2 AND COALESCE(definition->>'fqn', object_id) = $3
		ORDER BY version_major DESC, version_minor DESC
		LIMIT 1`,
		snapshotSetID, string(objectType), fqn,
	)
	if err == sql.ErrNoRows {
		return registry.Snapshot{}, false, nil
	}
	if err != nil {
		return registry.Snapshot{}, false, fmt.Errorf("querying snapshot %s/%s: %w", objectType, fqn, err)
	}
	snap, err := row.toSnapshot()
	if err != nil {
		return registry.Snapshot{}, false, err
	}
	return snap, true, nil
}

// ListSnapshots returns every snapshot in a set, ordered by object_type
// then object_id for deterministic manifest rendering.
func (r *PostgresStore) ListSnapshots(ctx context.Context, snapshotSetID string) ([]registry.Snapshot, error) {
	var rows []snapshotRow
	err := r.selectContext(ctx, &rows, `
		SELECT snapshot_id, snapshot_set_id, object_type, object_id,
			version_major, version_minor, status, governance_tier,
			trust_class, security_label, effective_from, effective_until,
			predecessor_id, change_type, definition
		FROM "dsl-ob-poc".snapshots
		WHERE snapshot_set_id = $1
		ORDER BY object_type, object_id`,
		snapshotSetID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for set %s: %w", snapshotSetID, err)
	}
	out := make([]registry.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toSnapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

type activeSetRow struct {
	SnapshotSetID string    `db:"snapshot_set_id"`
	PublishedAt   time.Time `db:"published_at"`
	PublishedBy   string    `db:"published_by"`
}

// GetActiveSet reads the single production active_snapshot_set row.
func (r *PostgresStore) GetActiveSet(ctx context.Context) (registry.ActiveSnapshotSet, bool, error) {
	var row activeSetRow
	err := r.getContext(ctx, &row, `
		SELECT snapshot_set_id, published_at, published_by
		FROM "dsl-ob-poc".active_snapshot_set WHERE id`)
	if err == sql.ErrNoRows {
		return registry.ActiveSnapshotSet{}, false, nil
	}
	if err != nil {
		return registry.ActiveSnapshotSet{}, false, fmt.Errorf("reading active snapshot set: %w", err)
	}
	return registry.ActiveSnapshotSet{
		SnapshotSetID: row.SnapshotSetID,
		PublishedAt:   row.PublishedAt,
		PublishedBy:   row.PublishedBy,
	}, true, nil
}

// SetActiveSet flips the production pointer to a new snapshot set. The
// single-row table (id boolean primary key) makes this an upsert, the
// same atomic cutover the active set's single-writer invariant needs.
func (r *PostgresStore) SetActiveSet(ctx context.Context, set registry.ActiveSnapshotSet) error {
	_, err := r.execContext(ctx, `
		INSERT INTO "dsl-ob-poc".active_snapshot_set (id, snapshot_set_id, published_at, published_by)
		VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			snapshot_set_id = EXCLUDED.snapshot_set_id,
			published_at = EXCLUDED.published_at,
			published_by = EXCLUDED.published_by`,
		set.SnapshotSetID, set.PublishedAt, set.PublishedBy,
	)
	if err != nil {
		return fmt.Errorf("setting active snapshot set to %s: %w", set.SnapshotSetID, err)
	}
	return nil
}

type changeSetRow struct {
	ChangeSetID string     `db:"changeset_id"`
	ContentHash string     `db:"content_hash"`
	Manifest    []byte     `db:"manifest"`
	Artifacts   []byte     `db:"artifacts"`
	Phase       string     `db:"phase"`
	Plan        []byte     `db:"plan"`
	ProposedAt  time.Time  `db:"proposed_at"`
}

func (row changeSetRow) toChangeSet() (registry.ChangeSet, error) {
	var manifest registry.Manifest
	if err := json.Unmarshal(row.Manifest, &manifest); err != nil {
		return registry.ChangeSet{}, fmt.Errorf("decoding manifest for %s: %w", row.ChangeSetID, err)
	}
	var artifacts []registry.Artifact
	if err := json.Unmarshal(row.Artifacts, &artifacts); err != nil {
		return registry.ChangeSet{}, fmt.Errorf("decoding artifacts for %s: %w", row.ChangeSetID, err)
	}
	var plan *registry.Plan
	if len(row.Plan) > 0 {
		plan = &registry.Plan{}
		if err := json.Unmarshal(row.Plan, plan); err != nil {
			return registry.ChangeSet{}, fmt.Errorf("decoding plan for %s: %w", row.ChangeSetID, err)
		}
	}
	return registry.ChangeSet{
		ID:          row.ChangeSetID,
		ContentHash: row.ContentHash,
		Manifest:    manifest,
		Artifacts:   artifacts,
		Phase:       registry.ChangeSetPhase(row.Phase),
		Plan:        plan,
		ProposedAt:  row.ProposedAt,
	}, nil
}

// PutChangeSet upserts a ChangeSet, the shape a publish pipeline stage
// transition (proposed -> validated -> dry_run -> planned -> published)
// reuses for every phase advance.
func (r *PostgresStore) PutChangeSet(ctx context.Context, cs registry.ChangeSet) error {
	manifest, err := json.Marshal(cs.Manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest for %s: %w", cs.ID, err)
	}
	artifacts, err := json.Marshal(cs.Artifacts)
	if err != nil {
		return fmt.Errorf("encoding artifacts for %s: %w", cs.ID, err)
	}
	var plan []byte
	if cs.Plan != nil {
		plan, err = json.Marshal(cs.Plan)
		if err != nil {
			return fmt.Errorf("encoding plan for %s: %w", cs.ID, err)
		}
	}
	_, err = r.execContext(ctx, `
		INSERT INTO "dsl-ob-poc".changesets (changeset_id, content_hash, manifest, artifacts, phase, plan, proposed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (changeset_id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			manifest = EXCLUDED.manifest,
			artifacts = EXCLUDED.artifacts,
			phase = EXCLUDED.phase,
			plan = EXCLUDED.plan`,
		cs.ID, cs.ContentHash, manifest, artifacts, string(cs.Phase), plan, cs.ProposedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting changeset %s: %w", cs.ID, err)
	}
	return nil
}

// GetChangeSet loads a ChangeSet by id along with its review history.
func (r *PostgresStore) GetChangeSet(ctx context.Context, id string) (registry.ChangeSet, bool, error) {
	var row changeSetRow
	err := r.getContext(ctx, &row, `
		SELECT changeset_id, content_hash, manifest, artifacts, phase, plan, proposed_at
		FROM "dsl-ob-poc".changesets WHERE changeset_id = $1`, id)
	if err == sql.ErrNoRows {
		return registry.ChangeSet{}, false, nil
	}
	if err != nil {
		return registry.ChangeSet{}, false, fmt.Errorf("querying changeset %s: %w", id, err)
	}
	cs, err := row.toChangeSet()
	if err != nil {
		return registry.ChangeSet{}, false, err
	}

	var reviewRows []struct {
		Approver  string    `db:"approver"`
		Approved  bool      `db:"approved"`
		Reason    string    `db:"reason"`
		DecidedAt time.Time `db:"decided_at"`
	}
	if err := r.selectContext(ctx, &reviewRows, `
		SELECT approver, approved, reason, decided_at
		FROM "dsl-ob-poc".changeset_reviews WHERE changeset_id = $1 ORDER BY decided_at`, id); err != nil {
		return registry.ChangeSet{}, false, fmt.Errorf("loading reviews for changeset %s: %w", id, err)
	}
	for _, rr := range reviewRows {
		cs.Reviews = append(cs.Reviews, registry.ReviewDecision{
			ChangeSetID: id,
			Approver:    rr.Approver,
			Approved:    rr.Approved,
			Reason:      rr.Reason,
			DecidedAt:   rr.DecidedAt,
		})
	}
	return cs, true, nil
}

// PutReviewDecision records one governed-tier approval/rejection vote
// against a changeset's review history.
func (r *PostgresStore) PutReviewDecision(ctx context.Context, d registry.ReviewDecision) error {
	_, err := r.execContext(ctx, `
		INSERT INTO "dsl-ob-poc".changeset_reviews (changeset_id, approver, approved, reason, decided_at)
		VALUES ($1,$2,$3,$4,$5)`,
		d.ChangeSetID, d.Approver, d.Approved, d.Reason, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("recording review decision for changeset %s: %w", d.ChangeSetID, err)
	}
	return nil
}
