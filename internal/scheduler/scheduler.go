// Package scheduler implements the per-group state machine described in
// spec.md §4.D: group promotion, dispatch start, ready-entry assignment,
// and completion/failure/cancellation handling. It runs as a single
// cooperative actor — a goroutine owning a select loop over typed message
// channels plus a periodic tick — mirroring internal/batch/batch.go's
// scheduler.run goroutine, but reading and writing all state through
// internal/store rather than an in-process graph so state survives restarts
// (spec.md §5: "do not cache job or group state between scheduler ticks;
// read it from the store").
package scheduler

import (
	"context"
	"log"
	"time"

	"golang.org/x/xerrors"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
)

// DefaultTick is the scheduler's periodic drive interval (spec.md §4.D:
// "a periodic tick (default 60s) to drive group promotion").
const DefaultTick = 60 * time.Second

// workRequest is sent by the worker manager when it has a Ready worker for
// Target and wants the next assignable entry.
type workRequest struct {
	target buildorch.Target
	reply  chan<- *store.Entry
}

// finishedMsg reports a worker's terminal outcome for one entry.
type finishedMsg struct {
	entryID int64
	ok      bool
	asBuilt buildorch.Ident
}

// Scheduler is the actor described above. Construct with New and run it with
// Run in its own goroutine.
type Scheduler struct {
	Log     *log.Logger
	Store   store.Store
	Targets []buildorch.Target
	Tick    time.Duration

	workNeeded     chan workRequest
	workerFinished chan finishedMsg
	groupAdded     chan int64
	cancelGroup    chan int64
}

// New returns a Scheduler ready to Run.
func New(log *log.Logger, st store.Store, targets []buildorch.Target) *Scheduler {
	return &Scheduler{
		Log:            log,
		Store:          st,
		Targets:        targets,
		Tick:           DefaultTick,
		workNeeded:     make(chan workRequest),
		workerFinished: make(chan finishedMsg, 64),
		groupAdded:     make(chan int64, 64),
		cancelGroup:    make(chan int64, 16),
	}
}

// RequestWork asks the scheduler for the next ready entry for target,
// called by the worker manager when it has an idle worker (spec.md §4.D
// step 3). Returns nil if none is currently ready.
func (s *Scheduler) RequestWork(ctx context.Context, target buildorch.Target) (*store.Entry, error) {
	reply := make(chan *store.Entry, 1)
	select {
	case s.workNeeded <- workRequest{target: target, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case e := <-reply:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NotifyGroupAdded wakes the scheduler to run promotion/dispatch for a
// newly-planned group without waiting for the next tick.
func (s *Scheduler) NotifyGroupAdded(groupID int64) {
	select {
	case s.groupAdded <- groupID:
	default: // channel full: the next tick will pick it up anyway
	}
}

// NotifyWorkerFinished reports a worker's terminal result for entryID.
func (s *Scheduler) NotifyWorkerFinished(entryID int64, ok bool, asBuilt buildorch.Ident) {
	s.workerFinished <- finishedMsg{entryID: entryID, ok: ok, asBuilt: asBuilt}
}

// RequestCancel asks the scheduler to cancel a group. It reports false
// without blocking if the cancel channel is full, so an RPC handler can
// surface backpressure as UpstreamUnavailable rather than stall (spec.md
// §5: "a full channel causes the RPC to return SERVICE_UNAVAILABLE").
func (s *Scheduler) RequestCancel(groupID int64) bool {
	select {
	case s.cancelGroup <- groupID:
		return true
	default:
		return false
	}
}

// Run is the actor loop. It blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()

	s.driveAll(ctx) // initial pass so groups created before Run started get picked up

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			s.driveAll(ctx)

		case groupID := <-s.groupAdded:
			if err := s.promoteAndDispatch(ctx, s.targetOf(ctx, groupID)); err != nil {
				s.Log.Printf("scheduler: promote after group %d added: %v", groupID, err)
			}

		case gid := <-s.cancelGroup:
			if err := s.Store.CancelGroup(ctx, gid); err != nil {
				s.Log.Printf("scheduler: cancel group %d: %v", gid, err)
			}

		case msg := <-s.workerFinished:
			if err := s.handleFinished(ctx, msg); err != nil {
				s.Log.Printf("scheduler: handling finished entry %d: %v", msg.entryID, err)
			}

		case req := <-s.workNeeded:
			e, err := s.Store.TakeNextReadyForTarget(ctx, req.target)
			if err != nil {
				s.Log.Printf("scheduler: take-next-ready for %s: %v", req.target, err)
			}
			req.reply <- e
		}
	}
}

func (s *Scheduler) targetOf(ctx context.Context, groupID int64) buildorch.Target {
	g, err := s.Store.GetGroup(ctx, groupID)
	if err != nil {
		return ""
	}
	return g.Target
}

// driveAll runs group promotion and dispatch-start for every configured
// target (spec.md §4.D steps 1–2), the tick-driven entry point.
func (s *Scheduler) driveAll(ctx context.Context) {
	for _, target := range s.Targets {
		if err := s.promoteAndDispatch(ctx, target); err != nil {
			s.Log.Printf("scheduler: tick for %s: %v", target, err)
		}
	}
}

func (s *Scheduler) promoteAndDispatch(ctx context.Context, target buildorch.Target) error {
	if target == "" {
		return nil
	}
	if err := s.promoteQueued(ctx, target); err != nil {
		return xerrors.Errorf("promoting queued groups: %w", err)
	}
	if err := s.dispatchStart(ctx, target); err != nil {
		return xerrors.Errorf("starting dispatch: %w", err)
	}
	return nil
}

// promoteQueued implements spec.md §4.D step 1 and the per-project
// serialization rule in §4.C: a queued group is promoted to pending only if
// no other group for the same root project × target is pending or
// dispatching.
func (s *Scheduler) promoteQueued(ctx context.Context, target buildorch.Target) error {
	queued, err := s.Store.ListQueuedForTarget(ctx, target)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		return nil
	}
	pending, err := s.Store.ListPendingForTarget(ctx, target)
	if err != nil {
		return err
	}
	dispatching, err := s.Store.ListDispatchingForTarget(ctx, target)
	if err != nil {
		return err
	}
	active := make(map[buildorch.ShortIdent]bool, len(pending)+len(dispatching))
	for _, g := range pending {
		active[g.RootProject] = true
	}
	for _, g := range dispatching {
		active[g.RootProject] = true
	}

	for _, g := range queued {
		if active[g.RootProject] {
			continue // another group for this root project is already active
		}
		if err := s.Store.SetGroupState(ctx, g.ID, store.GroupPending); err != nil {
			return xerrors.Errorf("promoting group %d to pending: %w", g.ID, err)
		}
		active[g.RootProject] = true // a just-promoted group also blocks its siblings
	}
	return nil
}

// dispatchStart implements spec.md §4.D step 2: take at most one pending
// group for target, move it to dispatching, and fan its entries out from
// pending to waiting_on_dependency (or straight to ready when they have no
// dependencies).
func (s *Scheduler) dispatchStart(ctx context.Context, target buildorch.Target) error {
	pending, err := s.Store.ListPendingForTarget(ctx, target)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	g := pending[0] // oldest first, per ListPendingForTarget's created_at ASC ordering

	if err := s.Store.SetGroupState(ctx, g.ID, store.GroupDispatching); err != nil {
		return xerrors.Errorf("moving group %d to dispatching: %w", g.ID, err)
	}

	entries, err := s.Store.ListEntriesByGroupAndState(ctx, g.ID, store.ExecPending)
	if err != nil {
		return xerrors.Errorf("listing pending entries for group %d: %w", g.ID, err)
	}
	var toWaiting, toReady []int64
	for _, e := range entries {
		if e.WaitingOnCount == 0 {
			toReady = append(toReady, e.ID)
		} else {
			toWaiting = append(toWaiting, e.ID)
		}
	}
	if err := s.Store.BulkSetEntryState(ctx, toWaiting, store.ExecWaitingOnDependency); err != nil {
		return xerrors.Errorf("marking entries waiting_on_dependency for group %d: %w", g.ID, err)
	}
	if err := s.Store.BulkSetEntryState(ctx, toReady, store.ExecReady); err != nil {
		return xerrors.Errorf("marking entries ready for group %d: %w", g.ID, err)
	}
	return nil
}

// handleFinished implements spec.md §4.D steps 4–5: completion cascades
// waiting_on_count decrements and ready-promotion; failure floods
// dependency_failed through in-group rdeps. Either way, once every entry in
// the group is terminal the group itself is finalized.
func (s *Scheduler) handleFinished(ctx context.Context, msg finishedMsg) error {
	e, err := s.Store.GetEntry(ctx, msg.entryID)
	if err != nil {
		return xerrors.Errorf("looking up entry %d: %w", msg.entryID, err)
	}

	if msg.ok {
		if _, err := s.Store.MarkEntryComplete(ctx, msg.entryID, msg.asBuilt); err != nil {
			return xerrors.Errorf("marking entry %d complete: %w", msg.entryID, err)
		}
	} else {
		if _, err := s.Store.MarkEntryFailed(ctx, msg.entryID); err != nil {
			return xerrors.Errorf("marking entry %d failed: %w", msg.entryID, err)
		}
	}

	return s.finalizeGroupIfTerminal(ctx, e.GroupID)
}

func (s *Scheduler) finalizeGroupIfTerminal(ctx context.Context, groupID int64) error {
	counts, err := s.Store.CountEntriesByState(ctx, groupID)
	if err != nil {
		return xerrors.Errorf("counting entry states for group %d: %w", groupID, err)
	}
	state, terminal := terminalGroupState(counts)
	if !terminal {
		return nil
	}
	if err := s.Store.SetGroupState(ctx, groupID, state); err != nil {
		return xerrors.Errorf("finalizing group %d as %s: %w", groupID, state, err)
	}
	return nil
}

// terminalGroupState implements spec.md §8 invariant 1 and §4.D step 4/5's
// group-finalization rule: a group is terminal once no entry remains in a
// non-terminal exec_state, and its final state is failed if any entry
// failed, canceled if any entry was canceled (and none failed), or complete
// otherwise.
func terminalGroupState(counts map[store.ExecState]int) (store.GroupState, bool) {
	nonTerminal := counts[store.ExecPending] + counts[store.ExecWaitingOnDependency] +
		counts[store.ExecReady] + counts[store.ExecRunning] + counts[store.ExecCancelPending]
	if nonTerminal > 0 {
		return "", false
	}
	if counts[store.ExecJobFailed] > 0 || counts[store.ExecDependencyFailed] > 0 {
		return store.GroupFailed, true
	}
	if counts[store.ExecCancelComplete] > 0 {
		return store.GroupCanceled, true
	}
	return store.GroupComplete, true
}
