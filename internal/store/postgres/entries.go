package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
)

type entryRow struct {
	ID              int64          `db:"id"`
	GroupID         int64          `db:"group_id"`
	ProjectOrigin   string         `db:"project_origin"`
	ProjectName     string         `db:"project_name"`
	ManifestOrigin  string         `db:"manifest_origin"`
	ManifestName    string         `db:"manifest_name"`
	ManifestVersion string         `db:"manifest_version"`
	ManifestRelease string         `db:"manifest_release"`
	AsBuiltVersion  sql.NullString `db:"as_built_version"`
	AsBuiltRelease  sql.NullString `db:"as_built_release"`
	JobID           sql.NullInt64  `db:"job_id"`
	ExecState       string         `db:"exec_state"`
	Dependencies    pq.Int64Array  `db:"dependencies"`
	WaitingOnCount  int            `db:"waiting_on_count"`
	Target          string         `db:"target"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r entryRow) toEntry() *store.Entry {
	e := &store.Entry{
		ID:          r.ID,
		GroupID:     r.GroupID,
		ProjectName: buildorch.ShortIdent{Origin: r.ProjectOrigin, Name: r.ProjectName},
		ManifestIdent: buildorch.Ident{
			Origin:  r.ManifestOrigin,
			Name:    r.ManifestName,
			Version: r.ManifestVersion,
			Release: r.ManifestRelease,
		},
		ExecState:      store.ExecState(r.ExecState),
		Dependencies:   []int64(r.Dependencies),
		WaitingOnCount: r.WaitingOnCount,
		Target:         buildorch.Target(r.Target),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.JobID.Valid {
		id := r.JobID.Int64
		e.JobID = &id
	}
	if r.AsBuiltVersion.Valid {
		e.AsBuiltIdent = &buildorch.Ident{
			Origin:  r.ManifestOrigin,
			Name:    r.ManifestName,
			Version: r.AsBuiltVersion.String,
			Release: r.AsBuiltRelease.String,
		}
	}
	return e
}

func (s *Store) InsertEntries(ctx context.Context, entries []*store.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return translate(err, "beginning insert-entries transaction")
	}
	defer tx.Rollback()

	const q = `INSERT INTO entries
		(group_id, project_origin, project_name, manifest_origin, manifest_name,
		 manifest_version, manifest_release, exec_state, dependencies, waiting_on_count, target)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`
	for _, e := range entries {
		err := tx.GetContext(ctx, &e.ID, q,
			e.GroupID, e.ProjectName.Origin, e.ProjectName.Name,
			e.ManifestIdent.Origin, e.ManifestIdent.Name, e.ManifestIdent.Version, e.ManifestIdent.Release,
			string(e.ExecState), pq.Int64Array(e.Dependencies), e.WaitingOnCount, string(e.Target))
		if err != nil {
			return translate(err, "inserting entry for %s", e.ProjectName)
		}
	}
	if err := tx.Commit(); err != nil {
		return translate(err, "committing insert-entries transaction")
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id int64) (*store.Entry, error) {
	var row entryRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM entries WHERE id = $1`, id); err != nil {
		return nil, translate(err, "getting entry %d", id)
	}
	return row.toEntry(), nil
}

func (s *Store) ListEntriesByGroup(ctx context.Context, groupID int64) ([]*store.Entry, error) {
	var rows []entryRow
	const q = `SELECT * FROM entries WHERE group_id = $1 ORDER BY created_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &rows, q, groupID); err != nil {
		return nil, translate(err, "listing entries for group %d", groupID)
	}
	return toEntries(rows), nil
}

func (s *Store) ListEntriesByGroupAndState(ctx context.Context, groupID int64, state store.ExecState) ([]*store.Entry, error) {
	var rows []entryRow
	const q = `SELECT * FROM entries WHERE group_id = $1 AND exec_state = $2 ORDER BY created_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &rows, q, groupID, string(state)); err != nil {
		return nil, translate(err, "listing %s entries for group %d", state, groupID)
	}
	return toEntries(rows), nil
}

func toEntries(rows []entryRow) []*store.Entry {
	out := make([]*store.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.toEntry()
	}
	return out
}

func (s *Store) CountEntriesByState(ctx context.Context, groupID int64) (map[store.ExecState]int, error) {
	var rows []struct {
		ExecState string `db:"exec_state"`
		Count     int    `db:"count"`
	}
	const q = `SELECT exec_state, count(*) AS count FROM entries WHERE group_id = $1 GROUP BY exec_state`
	if err := s.db.SelectContext(ctx, &rows, q, groupID); err != nil {
		return nil, translate(err, "counting entries by state for group %d", groupID)
	}
	out := make(map[store.ExecState]int, len(rows))
	for _, r := range rows {
		out[store.ExecState(r.ExecState)] = r.Count
	}
	return out, nil
}

// TransitiveDepsForEntry walks entries.dependencies transitively within the
// owning group via a recursive CTE, mirroring the forward flood-fill
// internal/graph performs in memory over the full package graph.
func (s *Store) TransitiveDepsForEntry(ctx context.Context, entryID int64) ([]int64, error) {
	const q = `
		WITH RECURSIVE walk(id) AS (
			SELECT unnest(dependencies) FROM entries WHERE id = $1
			UNION
			SELECT unnest(e.dependencies) FROM entries e JOIN walk w ON e.id = w.id
		)
		SELECT id FROM walk`
	return s.queryIDs(ctx, q, entryID)
}

// TransitiveRdepsForEntry is TransitiveDepsForEntry's mirror image: every
// entry, direct or indirect, that will not become ready until entryID does.
func (s *Store) TransitiveRdepsForEntry(ctx context.Context, entryID int64) ([]int64, error) {
	const q = `
		WITH RECURSIVE walk(id) AS (
			SELECT id FROM entries WHERE $1 = ANY(dependencies)
			UNION
			SELECT e.id FROM entries e JOIN walk w ON w.id = ANY(e.dependencies)
		)
		SELECT id FROM walk`
	return s.queryIDs(ctx, q, entryID)
}

func (s *Store) queryIDs(ctx context.Context, q string, arg interface{}) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, q, arg); err != nil {
		return nil, translate(err, "walking entry dependency graph")
	}
	return ids, nil
}

// MarkEntryComplete marks entryID complete with the given as-built ident,
// then decrements waiting_on_count on every entry in the same group whose
// dependencies list contains entryID, promoting any that reach zero to
// ready (spec.md §4.C's promotion rule, §8 invariant 2).
func (s *Store) MarkEntryComplete(ctx context.Context, entryID int64, asBuilt buildorch.Ident) ([]int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, translate(err, "beginning mark-complete transaction for entry %d", entryID)
	}
	defer tx.Rollback()

	const markq = `UPDATE entries SET exec_state = $1, as_built_version = $2, as_built_release = $3, updated_at = now()
	               WHERE id = $4`
	if _, err := tx.ExecContext(ctx, markq, string(store.ExecComplete), asBuilt.Version, asBuilt.Release, entryID); err != nil {
		return nil, translate(err, "marking entry %d complete", entryID)
	}

	promoted, err := decrementRdeps(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, translate(err, "committing mark-complete for entry %d", entryID)
	}
	return promoted, nil
}

func decrementRdeps(ctx context.Context, tx *sqlx.Tx, entryID int64) ([]int64, error) {
	const decq = `
		UPDATE entries SET waiting_on_count = waiting_on_count - 1, updated_at = now()
		WHERE $1 = ANY(dependencies) AND exec_state = $2
		RETURNING id, waiting_on_count`
	var rows []struct {
		ID             int64 `db:"id"`
		WaitingOnCount int   `db:"waiting_on_count"`
	}
	if err := sqlx.SelectContext(ctx, tx, &rows, decq, entryID, string(store.ExecWaitingOnDependency)); err != nil {
		return nil, translate(err, "decrementing waiting_on_count for rdeps of entry %d", entryID)
	}

	var promoted []int64
	for _, r := range rows {
		if r.WaitingOnCount > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE entries SET exec_state = $1, updated_at = now() WHERE id = $2`,
			string(store.ExecReady), r.ID); err != nil {
			return nil, translate(err, "promoting entry %d to ready", r.ID)
		}
		promoted = append(promoted, r.ID)
	}
	return promoted, nil
}

// MarkEntryFailed marks entryID job_failed and floods dependency_failed
// through every entry that transitively depends on it, matching
// internal/graph's unbuildable propagation but scoped to one group's
// already-materialized entries (spec.md §4.C, §8 invariant 5).
func (s *Store) MarkEntryFailed(ctx context.Context, entryID int64) ([]int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, translate(err, "beginning mark-failed transaction for entry %d", entryID)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE entries SET exec_state = $1, updated_at = now() WHERE id = $2`,
		string(store.ExecJobFailed), entryID); err != nil {
		return nil, translate(err, "marking entry %d job_failed", entryID)
	}

	const rdepq = `
		WITH RECURSIVE walk(id) AS (
			SELECT id FROM entries WHERE $1 = ANY(dependencies)
			UNION
			SELECT e.id FROM entries e JOIN walk w ON w.id = ANY(e.dependencies)
		)
		SELECT id FROM walk`
	var affected []int64
	if err := sqlx.SelectContext(ctx, tx, &affected, rdepq, entryID); err != nil {
		return nil, translate(err, "walking rdeps of failed entry %d", entryID)
	}
	if len(affected) > 0 {
		const failq = `UPDATE entries SET exec_state = $1, updated_at = now()
		                WHERE id = ANY($2) AND exec_state NOT IN ($3, $4, $5, $6)`
		if _, err := tx.ExecContext(ctx, failq, string(store.ExecDependencyFailed), pq.Int64Array(affected),
			string(store.ExecComplete), string(store.ExecJobFailed), string(store.ExecDependencyFailed), string(store.ExecCancelComplete)); err != nil {
			return nil, translate(err, "propagating dependency_failed from entry %d", entryID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, translate(err, "committing mark-failed for entry %d", entryID)
	}
	return affected, nil
}

func (s *Store) SetEntryDependencies(ctx context.Context, entryID int64, deps []int64) error {
	const q = `UPDATE entries SET dependencies = $1, waiting_on_count = $2, updated_at = now() WHERE id = $3`
	res, err := s.db.ExecContext(ctx, q, pq.Int64Array(deps), len(deps), entryID)
	if err != nil {
		return translate(err, "setting dependencies for entry %d", entryID)
	}
	return mustAffect(res, buildorch.KindNotFound, "entry %d not found", entryID)
}

func (s *Store) BulkSetEntryState(ctx context.Context, ids []int64, state store.ExecState) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE entries SET exec_state = $1, updated_at = now() WHERE id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, q, string(state), pq.Int64Array(ids)); err != nil {
		return translate(err, "bulk-setting %d entries to %s", len(ids), state)
	}
	return nil
}

// TakeNextReadyForTarget atomically takes the oldest ready entry for target,
// ordered (group_id, created_at, id) per spec.md §4.D's FIFO-within-target
// dispatch ordering, and marks it running.
func (s *Store) TakeNextReadyForTarget(ctx context.Context, target buildorch.Target) (*store.Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, translate(err, "beginning take-next-ready transaction")
	}
	defer tx.Rollback()

	var row entryRow
	const sel = `SELECT * FROM entries WHERE target = $1 AND exec_state = $2
	             ORDER BY group_id ASC, created_at ASC, id ASC LIMIT 1 FOR UPDATE SKIP LOCKED`
	err = tx.GetContext(ctx, &row, sel, string(target), string(store.ExecReady))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, translate(err, "selecting next ready entry for %s", target)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE entries SET exec_state = $1, updated_at = now() WHERE id = $2`,
		string(store.ExecRunning), row.ID); err != nil {
		return nil, translate(err, "promoting entry %d to running", row.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err, "committing take-next-ready for entry %d", row.ID)
	}
	row.ExecState = string(store.ExecRunning)
	return row.toEntry(), nil
}

func (s *Store) CountReadyForTarget(ctx context.Context, target buildorch.Target) (int, error) {
	var n int
	const q = `SELECT count(*) FROM entries WHERE target = $1 AND exec_state = $2`
	if err := s.db.GetContext(ctx, &n, q, string(target), string(store.ExecReady)); err != nil {
		return 0, translate(err, "counting ready entries for %s", target)
	}
	return n, nil
}
