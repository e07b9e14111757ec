package postgres

import (
	"context"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
)

type busyWorkerRow struct {
	Ident       string `db:"ident"`
	JobID       int64  `db:"job_id"`
	Target      string `db:"target"`
	Quarantined bool   `db:"quarantined"`
}

// ListBusyWorkers reconstructs the durable half of worker bookkeeping on
// startup (spec.md §4.E's recovery step): which workers were mid-job when
// the daemon last ran. Liveness (Expiry, heartbeat) is not durable and is
// rebuilt in memory by internal/workermgr as workers reconnect.
func (s *Store) ListBusyWorkers(ctx context.Context) ([]*store.Worker, error) {
	var rows []busyWorkerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM busy_workers`); err != nil {
		return nil, translate(err, "listing busy workers")
	}
	out := make([]*store.Worker, len(rows))
	for i, r := range rows {
		jobID := r.JobID
		out[i] = &store.Worker{
			Ident:       r.Ident,
			Target:      buildorch.Target(r.Target),
			State:       store.WorkerBusy,
			JobID:       &jobID,
			Quarantined: r.Quarantined,
		}
	}
	return out, nil
}

func (s *Store) UpsertBusyWorker(ctx context.Context, ident string, jobID int64, target buildorch.Target, quarantined bool) error {
	const q = `INSERT INTO busy_workers (ident, job_id, target, quarantined)
	           VALUES ($1, $2, $3, $4)
	           ON CONFLICT (ident, job_id) DO UPDATE SET quarantined = EXCLUDED.quarantined`
	if _, err := s.db.ExecContext(ctx, q, ident, jobID, string(target), quarantined); err != nil {
		return translate(err, "recording busy worker %s for job %d", ident, jobID)
	}
	return nil
}

func (s *Store) DeleteBusyWorker(ctx context.Context, ident string, jobID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM busy_workers WHERE ident = $1 AND job_id = $2`, ident, jobID); err != nil {
		return translate(err, "clearing busy worker %s for job %d", ident, jobID)
	}
	return nil
}
