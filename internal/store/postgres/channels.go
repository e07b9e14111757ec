package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
)

func (s *Store) GetOrCreateChannel(ctx context.Context, origin, name string) (*store.Channel, error) {
	const sel = `SELECT id, origin, name FROM channels WHERE origin = $1 AND name = $2`
	var ch store.Channel
	err := s.db.GetContext(ctx, &ch, sel, origin, name)
	if err == nil {
		return &ch, nil
	}
	if err != sql.ErrNoRows {
		return nil, translate(err, "getting channel %s/%s", origin, name)
	}

	const ins = `INSERT INTO channels (origin, name) VALUES ($1, $2)
	             ON CONFLICT (origin, name) DO UPDATE SET name = EXCLUDED.name
	             RETURNING id, origin, name`
	if err := s.db.GetContext(ctx, &ch, ins, origin, name); err != nil {
		return nil, translate(err, "creating channel %s/%s", origin, name)
	}
	return &ch, nil
}

func (s *Store) DeleteChannel(ctx context.Context, origin, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE origin = $1 AND name = $2`, origin, name)
	if err != nil {
		return translate(err, "deleting channel %s/%s", origin, name)
	}
	return mustAffect(res, buildorch.KindNotFound, "channel %s/%s not found", origin, name)
}

// PromoteToChannel links pkgID into channelID, reporting changed=false when
// the link already existed so callers can skip redundant audit rows
// (spec.md §4.B: "promote is idempotent; demote of an absent link is a
// no-op").
func (s *Store) PromoteToChannel(ctx context.Context, pkgID, channelID int64) (bool, error) {
	const q = `INSERT INTO channel_packages (channel_id, package_id) VALUES ($1, $2)
	           ON CONFLICT (channel_id, package_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, channelID, pkgID)
	if err != nil {
		return false, translate(err, "promoting package %d to channel %d", pkgID, channelID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(err, "reading promote result for package %d", pkgID)
	}
	return n > 0, nil
}

func (s *Store) DemoteFromChannel(ctx context.Context, pkgID, channelID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channel_packages WHERE channel_id = $1 AND package_id = $2`, channelID, pkgID)
	if err != nil {
		return false, translate(err, "demoting package %d from channel %d", pkgID, channelID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(err, "reading demote result for package %d", pkgID)
	}
	return n > 0, nil
}

type packageRow struct {
	ID        int64          `db:"id"`
	Origin    string         `db:"origin"`
	Name      string         `db:"name"`
	Version   string         `db:"version"`
	Release   string         `db:"release"`
	Target    string         `db:"target"`
	Manifest  string         `db:"manifest"`
	Checksum  string         `db:"checksum"`
	Visibility string        `db:"visibility"`
	Deps      pq.StringArray `db:"deps"`
	BuildDeps pq.StringArray `db:"build_deps"`
}

func (r packageRow) toRecord() *store.PackageRecord {
	return &store.PackageRecord{
		ID: r.ID,
		Ident: buildorch.Ident{
			Origin:  r.Origin,
			Name:    r.Name,
			Version: r.Version,
			Release: r.Release,
		},
		Target:     buildorch.Target(r.Target),
		Deps:       parseIdents(r.Deps),
		BuildDeps:  parseIdents(r.BuildDeps),
		Manifest:   r.Manifest,
		Checksum:   r.Checksum,
		Visibility: store.Visibility(r.Visibility),
	}
}

// formatIdents/parseIdents round-trip buildorch.Idents through the packages
// table's TEXT[] dep columns using Ident's own canonical
// "origin/name/version/release" encoding, since deps are named by ident
// rather than by the numeric id used for in-group entry dependencies. A
// hyphen-joined encoding would be ambiguous: package names and versions
// routinely contain hyphens, but never a slash.
func formatIdents(ids []buildorch.Ident) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseIdents(ss []string) []buildorch.Ident {
	out := make([]buildorch.Ident, 0, len(ss))
	for _, s := range ss {
		if id, err := buildorch.ParseIdent(s); err == nil && id.FullySpecified() {
			out = append(out, id)
		}
	}
	return out
}

// InsertPackage persists a newly-uploaded package record (spec.md §4.G's
// JobGraphPackageCreate).
func (s *Store) InsertPackage(ctx context.Context, p *store.PackageRecord) (int64, error) {
	const q = `INSERT INTO packages (origin, name, version, release, target, manifest, checksum, visibility, deps, build_deps)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	var id int64
	err := s.db.GetContext(ctx, &id, q,
		p.Ident.Origin, p.Ident.Name, p.Ident.Version, p.Ident.Release, string(p.Target),
		p.Manifest, p.Checksum, string(p.Visibility),
		pq.Array(formatIdents(p.Deps)), pq.Array(formatIdents(p.BuildDeps)))
	if err != nil {
		return 0, translate(err, "inserting package %s", p.Ident)
	}
	return id, nil
}

// ListPackagesByTarget returns every package record for target in id order,
// for rebuilding the in-memory dependency graph on startup.
func (s *Store) ListPackagesByTarget(ctx context.Context, target buildorch.Target) ([]*store.PackageRecord, error) {
	const q = `SELECT * FROM packages WHERE target = $1 ORDER BY id ASC`
	var rows []packageRow
	if err := s.db.SelectContext(ctx, &rows, q, string(target)); err != nil {
		return nil, translate(err, "listing packages for target %s", target)
	}
	out := make([]*store.PackageRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}

func (s *Store) ListChannelPackages(ctx context.Context, channelID int64, visible []store.Visibility, limit, offset int) ([]*store.PackageRecord, error) {
	visStrs := make([]string, len(visible))
	for i, v := range visible {
		visStrs[i] = string(v)
	}
	const q = `SELECT p.* FROM packages p
	           JOIN channel_packages cp ON cp.package_id = p.id
	           WHERE cp.channel_id = $1 AND p.visibility = ANY($2)
	           ORDER BY p.id DESC LIMIT $3 OFFSET $4`
	var rows []packageRow
	if err := s.db.SelectContext(ctx, &rows, q, channelID, pq.Array(visStrs), limit, offset); err != nil {
		return nil, translate(err, "listing packages for channel %d", channelID)
	}
	out := make([]*store.PackageRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}
