package postgres

import (
	"context"
	"database/sql"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
)

type jobRow struct {
	ID              int64          `db:"id"`
	EntryID         int64          `db:"entry_id"`
	WorkerIdent     string         `db:"worker_ident"`
	ProjectOrigin   string         `db:"project_origin"`
	ProjectName     string         `db:"project_name"`
	ProjectPlanPath string         `db:"project_plan_path"`
	VCSRepo         string         `db:"vcs_repo"`
	VCSRef          string         `db:"vcs_ref"`
	State           string         `db:"state"`
	BuildStartedAt  sql.NullTime   `db:"build_started_at"`
	BuildFinishedAt sql.NullTime   `db:"build_finished_at"`
	PkgVersion      sql.NullString `db:"pkg_version"`
	PkgRelease      sql.NullString `db:"pkg_release"`
	ErrorCode       sql.NullString `db:"error_code"`
	ErrorMessage    sql.NullString `db:"error_message"`
	Channel         string         `db:"channel"`
	Target          string         `db:"target"`
	IsArchived      bool           `db:"is_archived"`
}

func (r jobRow) toJob() *store.Job {
	j := &store.Job{
		ID:          r.ID,
		EntryID:     r.EntryID,
		WorkerIdent: r.WorkerIdent,
		Project: store.ProjectRef{
			Origin:   r.ProjectOrigin,
			Name:     r.ProjectName,
			PlanPath: r.ProjectPlanPath,
			VCSRepo:  r.VCSRepo,
			VCSRef:   r.VCSRef,
		},
		State:      store.JobState(r.State),
		Channel:    r.Channel,
		Target:     buildorch.Target(r.Target),
		IsArchived: r.IsArchived,
	}
	if r.BuildStartedAt.Valid {
		t := r.BuildStartedAt.Time
		j.BuildStartedAt = &t
	}
	if r.BuildFinishedAt.Valid {
		t := r.BuildFinishedAt.Time
		j.BuildFinishedAt = &t
	}
	if r.PkgVersion.Valid {
		j.PackageIdent = &buildorch.Ident{
			Origin:  r.ProjectOrigin,
			Name:    r.ProjectName,
			Version: r.PkgVersion.String,
			Release: r.PkgRelease.String,
		}
	}
	if r.ErrorCode.Valid {
		j.Error = &store.JobErr{
			Code:    buildorch.KindFromString(r.ErrorCode.String),
			Message: r.ErrorMessage.String,
		}
	}
	return j
}

func (s *Store) CreateJob(ctx context.Context, job *store.Job) (int64, error) {
	const q = `INSERT INTO jobs
		(entry_id, worker_ident, project_origin, project_name, project_plan_path,
		 vcs_repo, vcs_ref, state, channel, target)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	var id int64
	err := s.db.GetContext(ctx, &id, q,
		job.EntryID, job.WorkerIdent, job.Project.Origin, job.Project.Name, job.Project.PlanPath,
		job.Project.VCSRepo, job.Project.VCSRef, string(job.State), job.Channel, string(job.Target))
	if err != nil {
		return 0, translate(err, "creating job for entry %d", job.EntryID)
	}
	return id, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*store.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, id); err != nil {
		return nil, translate(err, "getting job %d", id)
	}
	return row.toJob(), nil
}

// UpdateJob persists the mutable half of a Job record: state, timing,
// resulting package ident, and terminal error, keyed by id.
func (s *Store) UpdateJob(ctx context.Context, job *store.Job) error {
	var errCode, errMsg sql.NullString
	if job.Error != nil {
		errCode = sql.NullString{String: job.Error.Code.String(), Valid: true}
		errMsg = sql.NullString{String: job.Error.Message, Valid: true}
	}
	var pkgVersion, pkgRelease sql.NullString
	if job.PackageIdent != nil {
		pkgVersion = sql.NullString{String: job.PackageIdent.Version, Valid: true}
		pkgRelease = sql.NullString{String: job.PackageIdent.Release, Valid: true}
	}
	var started, finished sql.NullTime
	if job.BuildStartedAt != nil {
		started = sql.NullTime{Time: *job.BuildStartedAt, Valid: true}
	}
	if job.BuildFinishedAt != nil {
		finished = sql.NullTime{Time: *job.BuildFinishedAt, Valid: true}
	}

	const q = `UPDATE jobs SET
		worker_ident = $1, state = $2, build_started_at = $3, build_finished_at = $4,
		pkg_version = $5, pkg_release = $6, error_code = $7, error_message = $8,
		is_archived = $9
		WHERE id = $10`
	res, err := s.db.ExecContext(ctx, q, job.WorkerIdent, string(job.State), started, finished,
		pkgVersion, pkgRelease, errCode, errMsg, job.IsArchived, job.ID)
	if err != nil {
		return translate(err, "updating job %d", job.ID)
	}
	return mustAffect(res, buildorch.KindNotFound, "job %d not found", job.ID)
}

func (s *Store) ListJobsByState(ctx context.Context, state store.JobState) ([]*store.Job, error) {
	var rows []jobRow
	const q = `SELECT * FROM jobs WHERE state = $1 ORDER BY id ASC`
	if err := s.db.SelectContext(ctx, &rows, q, string(state)); err != nil {
		return nil, translate(err, "listing %s jobs", state)
	}
	out := make([]*store.Job, len(rows))
	for i, r := range rows {
		out[i] = r.toJob()
	}
	return out, nil
}

func (s *Store) ListJobsByProject(ctx context.Context, project buildorch.ShortIdent, limit, offset int) ([]*store.Job, error) {
	var rows []jobRow
	const q = `SELECT * FROM jobs WHERE project_origin = $1 AND project_name = $2
	           ORDER BY id DESC LIMIT $3 OFFSET $4`
	if err := s.db.SelectContext(ctx, &rows, q, project.Origin, project.Name, limit, offset); err != nil {
		return nil, translate(err, "listing jobs for %s", project)
	}
	out := make([]*store.Job, len(rows))
	for i, r := range rows {
		out[i] = r.toJob()
	}
	return out, nil
}

func (s *Store) MarkJobArchived(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET is_archived = true WHERE id = $1`, id)
	if err != nil {
		return translate(err, "archiving job %d", id)
	}
	return mustAffect(res, buildorch.KindNotFound, "job %d not found", id)
}
