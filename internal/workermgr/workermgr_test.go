package workermgr

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
	"github.com/distr1/buildorch/internal/store/memstore"
	"github.com/distr1/buildorch/pb/worker"
)

func testLog() *log.Logger { return log.New(io.Discard, "", 0) }

type fakeScheduler struct {
	next     *store.Entry
	finished []finishedCall
}

type finishedCall struct {
	entryID int64
	ok      bool
}

func (f *fakeScheduler) RequestWork(ctx context.Context, target buildorch.Target) (*store.Entry, error) {
	e := f.next
	f.next = nil
	return e, nil
}

func (f *fakeScheduler) NotifyWorkerFinished(entryID int64, ok bool, asBuilt buildorch.Ident) {
	f.finished = append(f.finished, finishedCall{entryID: entryID, ok: ok})
}

type fakeTransport struct {
	sent map[string][]*worker.WorkerCommand
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string][]*worker.WorkerCommand)}
}

func (f *fakeTransport) Send(ident string, cmd *worker.WorkerCommand) bool {
	f.sent[ident] = append(f.sent[ident], cmd)
	return true
}

func seedProject(t *testing.T, st store.Store, target buildorch.Target) buildorch.ShortIdent {
	t.Helper()
	name := buildorch.ShortIdent{Origin: "a", Name: "pkg"}
	if err := st.CreateProject(context.Background(), &store.Project{Name: name, Target: target, AutoBuild: true, PlanPath: "a/pkg"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return name
}

// TestAssignDispatchesReadyWorker exercises spec.md §4.E's assignment loop:
// a Ready worker for a target receives StartJob for the entry the scheduler
// hands back.
func TestAssignDispatchesReadyWorker(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	target := buildorch.TargetX8664Linux
	proj := seedProject(t, st, target)

	if err := st.InsertEntries(ctx, []*store.Entry{{
		GroupID: 1, ProjectName: proj, ExecState: store.ExecReady, Target: target,
	}}); err != nil {
		t.Fatalf("InsertEntries: %v", err)
	}
	entries, _ := st.ListEntriesByGroup(ctx, 1)
	entry := entries[0]

	sched := &fakeScheduler{next: entry}
	transport := newFakeTransport()
	m := New(testLog(), st, sched, nil, transport, []buildorch.Target{target})
	m.OnHeartbeat(&worker.Heartbeat{Ident: "w1", Target: string(target), State: worker.WorkerState_READY})

	m.assign(ctx)

	cmds := transport.sent["w1"]
	if len(cmds) != 1 {
		t.Fatalf("len(sent commands) = %d, want 1", len(cmds))
	}
	if cmds[0].Kind != worker.WorkerCommand_START_JOB {
		t.Fatalf("command kind = %v, want START_JOB", cmds[0].Kind)
	}
	if cmds[0].Job.Name != "pkg" {
		t.Fatalf("job name = %q, want pkg", cmds[0].Job.Name)
	}

	m.mu.Lock()
	w := m.workers["w1"]
	m.mu.Unlock()
	if !w.busy {
		t.Fatal("worker w1 not marked busy after dispatch")
	}
	if w.jobID == 0 {
		t.Fatal("worker w1 has no job id after dispatch")
	}
}

// TestOnJobStatusCompleteNotifiesScheduler exercises the worker -> manager
// path for a successful build.
func TestOnJobStatusCompleteNotifiesScheduler(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	target := buildorch.TargetX8664Linux
	proj := seedProject(t, st, target)

	if err := st.InsertEntries(ctx, []*store.Entry{{
		GroupID: 1, ProjectName: proj, ExecState: store.ExecReady, Target: target,
	}}); err != nil {
		t.Fatalf("InsertEntries: %v", err)
	}
	entries, _ := st.ListEntriesByGroup(ctx, 1)
	entry := entries[0]

	jobID, err := st.CreateJob(ctx, &store.Job{EntryID: entry.ID, WorkerIdent: "w1", State: store.JobDispatched, Target: target})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	sched := &fakeScheduler{}
	m := New(testLog(), st, sched, nil, newFakeTransport(), []buildorch.Target{target})
	m.workers["w1"] = &workerState{ident: "w1", target: target, busy: true, jobID: jobID, entryID: entry.ID}

	m.OnJobStatus(ctx, "w1", &worker.JobStatus{
		JobId: jobID, State: worker.JobStatus_COMPLETE,
		PkgOrigin: "a", PkgName: "pkg", PkgVersion: "1", PkgRelease: "1",
	})

	if len(sched.finished) != 1 || !sched.finished[0].ok || sched.finished[0].entryID != entry.ID {
		t.Fatalf("scheduler.finished = %+v, want one successful completion for entry %d", sched.finished, entry.ID)
	}

	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != store.JobComplete {
		t.Fatalf("job state = %s, want complete", job.State)
	}
}

// TestPollCancellationsMarksOrphanDirectly exercises spec.md §4.E: a
// cancel_pending job with no matching worker is marked cancel_complete
// directly.
func TestPollCancellationsMarksOrphanDirectly(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	target := buildorch.TargetX8664Linux

	jobID, err := st.CreateJob(ctx, &store.Job{EntryID: 1, State: store.JobCancelPending, Target: target})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	m := New(testLog(), st, &fakeScheduler{}, nil, newFakeTransport(), []buildorch.Target{target})
	m.pollCancellations(ctx)

	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != store.JobCancelComplete {
		t.Fatalf("job state = %s, want cancel_complete", job.State)
	}
}
