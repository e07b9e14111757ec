package postgres

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/xerrors"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
)

type groupRow struct {
	ID          int64     `db:"id"`
	RootOrigin  string    `db:"root_origin"`
	RootName    string    `db:"root_name"`
	Target      string    `db:"target"`
	State       string    `db:"state"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r groupRow) toGroup() *store.Group {
	return &store.Group{
		ID:          r.ID,
		RootProject: buildorch.ShortIdent{Origin: r.RootOrigin, Name: r.RootName},
		Target:      buildorch.Target(r.Target),
		State:       store.GroupState(r.State),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (s *Store) InsertGroup(ctx context.Context, g *store.Group) (int64, error) {
	const q = `INSERT INTO groups (root_origin, root_name, target, state)
	           VALUES ($1, $2, $3, $4) RETURNING id`
	var id int64
	err := s.db.GetContext(ctx, &id, q, g.RootProject.Origin, g.RootProject.Name, string(g.Target), string(g.State))
	if err != nil {
		return 0, translate(err, "inserting group for %s", g.RootProject)
	}
	return id, nil
}

func (s *Store) GetGroup(ctx context.Context, id int64) (*store.Group, error) {
	var row groupRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM groups WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err, "getting group %d", id)
	}
	return row.toGroup(), nil
}

func (s *Store) ListGroupsByOrigin(ctx context.Context, origin string, limit int) ([]*store.Group, error) {
	var rows []groupRow
	const q = `SELECT * FROM groups WHERE root_origin = $1 ORDER BY created_at DESC LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, q, origin, limit); err != nil {
		return nil, translate(err, "listing groups for origin %s", origin)
	}
	out := make([]*store.Group, len(rows))
	for i, r := range rows {
		out[i] = r.toGroup()
	}
	return out, nil
}

func (s *Store) SetGroupState(ctx context.Context, id int64, state store.GroupState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET state = $1, updated_at = now() WHERE id = $2`, string(state), id)
	if err != nil {
		return translate(err, "setting group %d state to %s", id, state)
	}
	return mustAffect(res, buildorch.KindNotFound, "group %d not found", id)
}

// CancelGroup sets every non-terminal entry of the group to cancel_pending
// so the scheduler actor picks it up on its next tick (spec.md §4.D step 6). The group's own
// state is left as-is here; it only becomes "canceled" once all entries
// reach a terminal state, mirroring the invariant that a terminal group
// implies every entry is terminal (spec.md §8 invariant 1).
func (s *Store) CancelGroup(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return translate(err, "beginning cancel transaction for group %d", id)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE entries SET exec_state = $1, updated_at = now()
		WHERE group_id = $2 AND exec_state NOT IN ($3, $4, $5, $6)`,
		string(store.ExecCancelPending), id,
		string(store.ExecComplete), string(store.ExecJobFailed),
		string(store.ExecDependencyFailed), string(store.ExecCancelComplete))
	if err != nil {
		return translate(err, "marking entries cancel_pending for group %d", id)
	}
	_, _ = res, nil

	if err := tx.Commit(); err != nil {
		return translate(err, "committing cancel for group %d", id)
	}
	return nil
}

func (s *Store) ListQueuedForTarget(ctx context.Context, target buildorch.Target) ([]*store.Group, error) {
	return s.listByTargetState(ctx, target, store.GroupQueued)
}

func (s *Store) ListPendingForTarget(ctx context.Context, target buildorch.Target) ([]*store.Group, error) {
	return s.listByTargetState(ctx, target, store.GroupPending)
}

func (s *Store) ListDispatchingForTarget(ctx context.Context, target buildorch.Target) ([]*store.Group, error) {
	return s.listByTargetState(ctx, target, store.GroupDispatching)
}

func (s *Store) listByTargetState(ctx context.Context, target buildorch.Target, state store.GroupState) ([]*store.Group, error) {
	var rows []groupRow
	const q = `SELECT * FROM groups WHERE target = $1 AND state = $2 ORDER BY created_at ASC`
	if err := s.db.SelectContext(ctx, &rows, q, string(target), string(state)); err != nil {
		return nil, translate(err, "listing %s groups for %s", state, target)
	}
	out := make([]*store.Group, len(rows))
	for i, r := range rows {
		out[i] = r.toGroup()
	}
	return out, nil
}

// TakeNextQueuedForTarget atomically moves the oldest queued group for
// target to dispatching and returns it, using SELECT ... FOR UPDATE SKIP
// LOCKED so concurrent scheduler ticks (in a multi-process deployment)
// never race on the same group.
func (s *Store) TakeNextQueuedForTarget(ctx context.Context, target buildorch.Target) (*store.Group, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, translate(err, "beginning take-next-queued transaction")
	}
	defer tx.Rollback()

	var row groupRow
	const sel = `SELECT * FROM groups WHERE target = $1 AND state = $2
	             ORDER BY created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED`
	err = tx.GetContext(ctx, &row, sel, string(target), string(store.GroupQueued))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no queued group: not an error, caller polls again next tick
		}
		return nil, translate(err, "selecting next queued group for %s", target)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE groups SET state = $1, updated_at = now() WHERE id = $2`,
		string(store.GroupDispatching), row.ID); err != nil {
		return nil, translate(err, "promoting group %d to dispatching", row.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err, "committing take-next-queued for group %d", row.ID)
	}
	row.State = string(store.GroupDispatching)
	return row.toGroup(), nil
}

func mustAffect(res sql.Result, kind buildorch.Kind, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return xerrors.Errorf(format+": %w", append(args, err)...)
	}
	if n == 0 {
		return buildorch.Errorf(kind, nil, format, args...)
	}
	return nil
}
