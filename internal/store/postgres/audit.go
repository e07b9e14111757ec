package postgres

import (
	"context"
	"database/sql"

	"github.com/distr1/buildorch/internal/store"
)

// InsertAudit appends one audit row. PackageID/GroupID of zero (the
// BIGSERIAL sequences never produce 0) are stored as NULL, matching
// AuditRecord's "exactly one of PackageID/GroupID is set" contract.
func (s *Store) InsertAudit(ctx context.Context, rec store.AuditRecord) error {
	var pkgID, groupID sql.NullInt64
	if rec.PackageID != 0 {
		pkgID = sql.NullInt64{Int64: rec.PackageID, Valid: true}
	}
	if rec.GroupID != 0 {
		groupID = sql.NullInt64{Int64: rec.GroupID, Valid: true}
	}
	const q = `INSERT INTO audit_log
		(package_id, group_id, channel_id, operation, trigger, requester_id, requester_name, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, q, pkgID, groupID, rec.ChannelID, string(rec.Op),
		rec.Trigger, rec.RequesterID, rec.RequesterName, rec.Origin)
	if err != nil {
		return translate(err, "inserting audit record for channel %d", rec.ChannelID)
	}
	return nil
}
