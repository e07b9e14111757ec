package postgres

import (
	"context"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
)

type projectRow struct {
	Origin    string `db:"origin"`
	Name      string `db:"name"`
	Target    string `db:"target"`
	PlanPath  string `db:"plan_path"`
	AutoBuild bool   `db:"auto_build"`
	Excluded  bool   `db:"excluded"`
	VCSRepo   string `db:"vcs_repo"`
}

func (r projectRow) toProject() *store.Project {
	return &store.Project{
		Name:      buildorch.ShortIdent{Origin: r.Origin, Name: r.Name},
		Target:    buildorch.Target(r.Target),
		PlanPath:  r.PlanPath,
		AutoBuild: r.AutoBuild,
		Excluded:  r.Excluded,
		VCSRepo:   r.VCSRepo,
	}
}

func (s *Store) GetProject(ctx context.Context, name buildorch.ShortIdent, target buildorch.Target) (*store.Project, error) {
	var row projectRow
	const q = `SELECT * FROM projects WHERE origin = $1 AND name = $2 AND target = $3`
	if err := s.db.GetContext(ctx, &row, q, name.Origin, name.Name, string(target)); err != nil {
		return nil, translate(err, "getting project %s for %s", name, target)
	}
	return row.toProject(), nil
}

func (s *Store) ListProjects(ctx context.Context, origin string) ([]*store.Project, error) {
	var rows []projectRow
	const q = `SELECT * FROM projects WHERE origin = $1 ORDER BY name ASC, target ASC`
	if err := s.db.SelectContext(ctx, &rows, q, origin); err != nil {
		return nil, translate(err, "listing projects for origin %s", origin)
	}
	out := make([]*store.Project, len(rows))
	for i, r := range rows {
		out[i] = r.toProject()
	}
	return out, nil
}

func (s *Store) CreateProject(ctx context.Context, p *store.Project) error {
	const q = `INSERT INTO projects (origin, name, target, plan_path, auto_build, excluded, vcs_repo)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, q, p.Name.Origin, p.Name.Name, string(p.Target),
		p.PlanPath, p.AutoBuild, p.Excluded, p.VCSRepo)
	if err != nil {
		return translate(err, "creating project %s for %s", p.Name, p.Target)
	}
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, p *store.Project) error {
	const q = `UPDATE projects SET plan_path = $1, auto_build = $2, excluded = $3, vcs_repo = $4
	           WHERE origin = $5 AND name = $6 AND target = $7`
	res, err := s.db.ExecContext(ctx, q, p.PlanPath, p.AutoBuild, p.Excluded, p.VCSRepo,
		p.Name.Origin, p.Name.Name, string(p.Target))
	if err != nil {
		return translate(err, "updating project %s for %s", p.Name, p.Target)
	}
	return mustAffect(res, buildorch.KindNotFound, "project %s for %s not found", p.Name, p.Target)
}

func (s *Store) DeleteProject(ctx context.Context, name buildorch.ShortIdent, target buildorch.Target) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE origin = $1 AND name = $2 AND target = $3`,
		name.Origin, name.Name, string(target))
	if err != nil {
		return translate(err, "deleting project %s for %s", name, target)
	}
	return mustAffect(res, buildorch.KindNotFound, "project %s for %s not found", name, target)
}
