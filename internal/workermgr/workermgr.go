// Package workermgr implements the connected-worker table and wire mediation
// described in spec.md §4.E: heartbeat ingestion, ready-worker assignment,
// heartbeat/job timeouts, and cancellation forwarding. Like
// internal/scheduler it runs as a single cooperative actor — grounded on the
// same internal/batch/batch.go goroutine/ticker shape — but owns the worker
// table instead of the job graph.
package workermgr

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
	"github.com/distr1/buildorch/pb/worker"
)

// DefaultHeartbeatTimeout is how long a worker may go without a heartbeat
// before it is considered dead (spec.md §4.E: "default 33 s").
const DefaultHeartbeatTimeout = 33 * time.Second

// DefaultTick drives timeout checks and the cancellation poll.
const DefaultTick = 5 * time.Second

// Secrets decrypts an origin's secrets for attachment to a StartJob command
// (spec.md §4.E). internal/secretcache provides the concrete implementation;
// this interface keeps the manager decoupled from key-management details.
type Secrets interface {
	Decrypt(ctx context.Context, origin string) ([]*worker.Secret, error)
}

// Scheduler is the subset of *scheduler.Scheduler the manager needs: asking
// for work and reporting a worker's terminal result.
type Scheduler interface {
	RequestWork(ctx context.Context, target buildorch.Target) (*store.Entry, error)
	NotifyWorkerFinished(entryID int64, ok bool, asBuilt buildorch.Ident)
}

// Transport sends a command to a specific connected worker. The gRPC server
// implementation (one goroutine per Heartbeats/Commands stream pair) is the
// concrete Transport; it returns false if the worker is no longer connected.
type Transport interface {
	Send(ident string, cmd *worker.WorkerCommand) bool
}

type workerState struct {
	ident       string
	target      buildorch.Target
	busy        bool
	expiry      time.Time
	jobID       int64
	entryID     int64
	jobExpiry   time.Time
	canceling   bool
	quarantined bool
}

// Manager is the worker-manager actor. Construct with New and drive it with
// Run, OnHeartbeat, and OnJobStatus from the gRPC server handlers.
type Manager struct {
	Log         *log.Logger
	Store       store.Store
	Scheduler   Scheduler
	Secrets     Secrets
	Transport   Transport
	Targets     []buildorch.Target
	HeartbeatTO time.Duration
	JobTimeout  time.Duration
	Tick        time.Duration

	mu      sync.Mutex
	workers map[string]*workerState
}

// New returns a Manager ready for Recover and Run.
func New(log *log.Logger, st store.Store, sched Scheduler, secrets Secrets, transport Transport, targets []buildorch.Target) *Manager {
	return &Manager{
		Log:         log,
		Store:       st,
		Scheduler:   sched,
		Secrets:     secrets,
		Transport:   transport,
		Targets:     targets,
		HeartbeatTO: DefaultHeartbeatTimeout,
		JobTimeout:  10 * time.Minute,
		Tick:        DefaultTick,
		workers:     make(map[string]*workerState),
	}
}

// Recover implements spec.md §4.E's startup recovery: reload busy-worker
// rows as Busy, then requeue any job left in "dispatched" state with no
// matching busy-worker row (its worker vanished between dispatch and the
// crash/restart).
func (m *Manager) Recover(ctx context.Context) error {
	busy, err := m.Store.ListBusyWorkers(ctx)
	if err != nil {
		return xerrors.Errorf("loading busy workers: %w", err)
	}
	m.mu.Lock()
	haveJob := make(map[int64]bool, len(busy))
	for _, w := range busy {
		var jobID int64
		if w.JobID != nil {
			jobID = *w.JobID
			haveJob[jobID] = true
		}
		m.workers[w.Ident] = &workerState{
			ident:       w.Ident,
			target:      w.Target,
			busy:        true,
			jobID:       jobID,
			quarantined: w.Quarantined,
		}
	}
	m.mu.Unlock()

	dispatched, err := m.Store.ListJobsByState(ctx, store.JobDispatched)
	if err != nil {
		return xerrors.Errorf("listing dispatched jobs: %w", err)
	}
	for _, job := range dispatched {
		if haveJob[job.ID] {
			continue
		}
		if err := m.requeueOrphan(ctx, job); err != nil {
			m.Log.Printf("workermgr: requeuing orphaned job %d: %v", job.ID, err)
		}
	}
	return nil
}

func (m *Manager) requeueOrphan(ctx context.Context, job *store.Job) error {
	if err := m.Store.BulkSetEntryState(ctx, []int64{job.EntryID}, store.ExecReady); err != nil {
		return err
	}
	job.State = store.JobFailed
	job.Error = &store.JobErr{Code: buildorch.KindUpstreamUnavailable, Message: "worker lost across restart"}
	return m.Store.UpdateJob(ctx, job)
}

// Run drives the assignment loop, timeout checks, and cancellation polling
// on Tick until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.assign(ctx)
			m.checkTimeouts(ctx)
			m.pollCancellations(ctx)
		}
	}
}

// assign implements spec.md §4.E's assignment loop: for each target, while a
// Ready worker exists, ask the scheduler for one ready entry and dispatch it.
func (m *Manager) assign(ctx context.Context) {
	for _, target := range m.Targets {
		for {
			ident, ok := m.takeReadyWorker(target)
			if !ok {
				break
			}
			e, err := m.Scheduler.RequestWork(ctx, target)
			if err != nil {
				m.Log.Printf("workermgr: RequestWork(%s): %v", target, err)
				m.releaseWorker(ident)
				break
			}
			if e == nil {
				m.releaseWorker(ident)
				break
			}
			if err := m.dispatch(ctx, ident, e); err != nil {
				m.Log.Printf("workermgr: dispatching entry %d to %s: %v", e.ID, ident, err)
				m.releaseWorker(ident)
			}
		}
	}
}

func (m *Manager) takeReadyWorker(target buildorch.Target) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ident, w := range m.workers {
		if w.target == target && !w.busy && !w.quarantined {
			w.busy = true // tentatively claimed; releaseWorker undoes this if dispatch fails
			return ident, true
		}
	}
	return "", false
}

func (m *Manager) releaseWorker(ident string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[ident]; ok {
		w.busy = false
	}
}

func (m *Manager) dispatch(ctx context.Context, ident string, e *store.Entry) error {
	proj, err := m.Store.GetProject(ctx, e.ProjectName, e.Target)
	if err != nil {
		return xerrors.Errorf("looking up project %s: %w", e.ProjectName, err)
	}

	var secrets []*worker.Secret
	if m.Secrets != nil {
		secrets, err = m.Secrets.Decrypt(ctx, e.ProjectName.Origin)
		if err != nil {
			m.Log.Printf("workermgr: decrypting secrets for %s: %v (dispatching without)", e.ProjectName.Origin, err)
			secrets = nil
		}
	}

	jobID, err := m.Store.CreateJob(ctx, &store.Job{
		EntryID:     e.ID,
		WorkerIdent: ident,
		Project: store.ProjectRef{
			Origin: e.ProjectName.Origin, Name: e.ProjectName.Name,
			PlanPath: proj.PlanPath, VCSRepo: proj.VCSRepo,
		},
		State:  store.JobDispatched,
		Target: e.Target,
	})
	if err != nil {
		return xerrors.Errorf("creating job for entry %d: %w", e.ID, err)
	}

	if err := m.Store.UpsertBusyWorker(ctx, ident, jobID, e.Target, false); err != nil {
		return xerrors.Errorf("upserting busy worker %s: %w", ident, err)
	}

	m.mu.Lock()
	if w, ok := m.workers[ident]; ok {
		w.jobID = jobID
		w.entryID = e.ID
		w.jobExpiry = time.Now().Add(m.JobTimeout)
		w.canceling = false
	}
	m.mu.Unlock()

	cmd := &worker.WorkerCommand{
		Kind: worker.WorkerCommand_START_JOB,
		Job: &worker.Job{
			JobId:    jobID,
			Origin:   e.ProjectName.Origin,
			Name:     e.ProjectName.Name,
			PlanPath: proj.PlanPath,
			VcsRepo:  proj.VCSRepo,
			Target:   string(e.Target),
			Secrets:  secrets,
		},
	}
	if !m.Transport.Send(ident, cmd) {
		return xerrors.Errorf("worker %s disconnected before StartJob could be sent", ident)
	}
	return nil
}

// OnHeartbeat applies spec.md §4.E's heartbeat state-machine table.
func (m *Manager) OnHeartbeat(hb *worker.Heartbeat) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, known := m.workers[hb.Ident]
	wantBusy := hb.State == worker.WorkerState_BUSY

	switch {
	case !known && !wantBusy:
		m.workers[hb.Ident] = &workerState{
			ident:  hb.Ident,
			target: buildorch.Target(hb.Target),
			expiry: time.Now().Add(m.HeartbeatTO),
		}
	case !known && wantBusy:
		// protocol violation: a worker cannot announce itself busy with no
		// prior StartJob from this manager. Ignore.
	case known && !w.busy && wantBusy:
		// protocol violation: manager never dispatched to this worker. Ignore.
	case known && w.busy && wantBusy:
		w.expiry = time.Now().Add(m.HeartbeatTO)
		if hb.JobId != 0 && hb.JobId != w.jobID {
			return
		}
		if !w.jobExpiry.IsZero() && time.Now().After(w.jobExpiry) && !w.canceling {
			w.canceling = true
			go m.cancelWorkerJob(hb.Ident, w.jobID)
		}
	case known && w.busy && !wantBusy:
		w.expiry = time.Now().Add(m.HeartbeatTO)
		// The race window: the worker may report Ready slightly before the
		// manager has processed its final JobStatus. Only actually clear the
		// busy row once the store agrees the job reached a terminal state;
		// otherwise leave the worker marked busy and ignore this heartbeat.
		go m.reconcileReadyClaim(hb.Ident, w.jobID)
	case known && !w.busy && !wantBusy:
		w.expiry = time.Now().Add(m.HeartbeatTO)
	}
}

func (m *Manager) reconcileReadyClaim(ident string, jobID int64) {
	job, err := m.Store.GetJob(context.Background(), jobID)
	if err != nil || !job.State.Terminal() {
		return // race: worker is ahead of the store; ignore this heartbeat
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[ident]; ok && w.jobID == jobID {
		w.busy = false
		w.jobID = 0
		w.entryID = 0
		w.canceling = false
	}
	_ = m.Store.DeleteBusyWorker(context.Background(), ident, jobID)
}

func (m *Manager) cancelWorkerJob(ident string, jobID int64) {
	m.Transport.Send(ident, &worker.WorkerCommand{Kind: worker.WorkerCommand_CANCEL_JOB, JobId: jobID})
}

// OnJobStatus records a worker's terminal report for a job and forwards the
// outcome to the scheduler.
func (m *Manager) OnJobStatus(ctx context.Context, ident string, st *worker.JobStatus) {
	m.mu.Lock()
	w, ok := m.workers[ident]
	var entryID int64
	if ok {
		entryID = w.entryID
	}
	m.mu.Unlock()
	if !ok || entryID == 0 {
		return
	}

	job, err := m.Store.GetJob(ctx, st.JobId)
	if err != nil {
		m.Log.Printf("workermgr: looking up job %d for status update: %v", st.JobId, err)
		return
	}

	switch st.State {
	case worker.JobStatus_COMPLETE:
		job.State = store.JobComplete
		ident := buildorch.Ident{Origin: st.PkgOrigin, Name: st.PkgName, Version: st.PkgVersion, Release: st.PkgRelease}
		job.PackageIdent = &ident
		_ = m.Store.UpdateJob(ctx, job)
		m.Scheduler.NotifyWorkerFinished(entryID, true, ident)
	case worker.JobStatus_FAILED:
		job.State = store.JobFailed
		job.Error = &store.JobErr{Code: buildorch.KindFromString(st.ErrorCode), Message: st.ErrorMessage}
		_ = m.Store.UpdateJob(ctx, job)
		m.Scheduler.NotifyWorkerFinished(entryID, false, buildorch.Ident{})
	case worker.JobStatus_CANCELED:
		job.State = store.JobCancelComplete
		_ = m.Store.UpdateJob(ctx, job)
		m.Scheduler.NotifyWorkerFinished(entryID, false, buildorch.Ident{})
	}
}

// checkTimeouts implements spec.md §4.E's heartbeat-expiry rule: it removes
// the worker and requeues its entry. Job expiry is checked in OnHeartbeat,
// which sends CancelJob without removing the worker.
func (m *Manager) checkTimeouts(ctx context.Context) {
	now := time.Now()
	var expired []*workerState
	m.mu.Lock()
	for ident, w := range m.workers {
		if w.expiry.IsZero() || now.Before(w.expiry) {
			continue
		}
		expired = append(expired, w)
		delete(m.workers, ident)
	}
	m.mu.Unlock()

	for _, w := range expired {
		if w.busy && w.entryID != 0 {
			if err := m.Store.BulkSetEntryState(ctx, []int64{w.entryID}, store.ExecReady); err != nil {
				m.Log.Printf("workermgr: requeuing entry %d after heartbeat expiry: %v", w.entryID, err)
			}
			if err := m.Store.DeleteBusyWorker(ctx, w.ident, w.jobID); err != nil {
				m.Log.Printf("workermgr: deleting busy row for %s: %v", w.ident, err)
			}
		}
	}
}

// pollCancellations implements spec.md §4.E's cancellation polling: every
// job in cancel_pending gets a CancelJob sent to its worker, or is marked
// cancel_complete directly if no worker is found.
func (m *Manager) pollCancellations(ctx context.Context) {
	jobs, err := m.Store.ListJobsByState(ctx, store.JobCancelPending)
	if err != nil {
		m.Log.Printf("workermgr: listing cancel_pending jobs: %v", err)
		return
	}
	for _, job := range jobs {
		ident, found := m.workerForJob(job.ID)
		if !found {
			job.State = store.JobCancelComplete
			if err := m.Store.UpdateJob(ctx, job); err != nil {
				m.Log.Printf("workermgr: marking job %d cancel_complete: %v", job.ID, err)
			}
			continue
		}
		m.Transport.Send(ident, &worker.WorkerCommand{Kind: worker.WorkerCommand_CANCEL_JOB, JobId: job.ID})
	}
}

func (m *Manager) workerForJob(jobID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ident, w := range m.workers {
		if w.busy && w.jobID == jobID {
			return ident, true
		}
	}
	return "", false
}
