// Package memstore is an in-process store.Store fake, used by
// scheduler/planner/worker-manager unit tests that must not require a live
// database (spec.md §4.B's operations implemented over plain maps, guarded
// by a mutex, mirroring internal/batch's in-memory bookkeeping rather than
// any SQL engine).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	nextGroupID   int64
	nextEntryID   int64
	nextJobID     int64
	nextChannelID int64

	groups   map[int64]*store.Group
	entries  map[int64]*store.Entry
	jobs     map[int64]*store.Job
	busy     map[[2]interface{}]*store.Worker // keyed by (ident, jobID)
	channels map[[2]string]*store.Channel
	members  map[int64]map[int64]bool // channelID -> packageID set
	packages map[int64]*store.PackageRecord
	audit    []store.AuditRecord
	projects map[[2]string]*store.Project // keyed by (origin/name, target)
}

// New returns an empty memstore.
func New() *Store {
	return &Store{
		groups:   make(map[int64]*store.Group),
		entries:  make(map[int64]*store.Entry),
		jobs:     make(map[int64]*store.Job),
		busy:     make(map[[2]interface{}]*store.Worker),
		channels: make(map[[2]string]*store.Channel),
		members:  make(map[int64]map[int64]bool),
		packages: make(map[int64]*store.PackageRecord),
		projects: make(map[[2]string]*store.Project),
	}
}

func clone[T any](v T) *T {
	c := v
	return &c
}

// --- Groups ---

func (s *Store) InsertGroup(ctx context.Context, g *store.Group) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGroupID++
	id := s.nextGroupID
	now := time.Now()
	cp := *g
	cp.ID = id
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.groups[id] = &cp
	return id, nil
}

func (s *Store) GetGroup(ctx context.Context, id int64) (*store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindNotFound, nil, "group %d not found", id)
	}
	return clone(*g), nil
}

func (s *Store) ListGroupsByOrigin(ctx context.Context, origin string, limit int) ([]*store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Group
	for _, g := range s.groups {
		if g.RootProject.Origin == origin {
			out = append(out, clone(*g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetGroupState(ctx context.Context, id int64, state store.GroupState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return buildorch.Errorf(buildorch.KindNotFound, nil, "group %d not found", id)
	}
	g.State = state
	g.UpdatedAt = time.Now()
	return nil
}

func (s *Store) CancelGroup(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.GroupID != id || e.ExecState.Terminal() {
			continue
		}
		e.ExecState = store.ExecCancelPending
		e.UpdatedAt = time.Now()
	}
	return nil
}

func (s *Store) ListQueuedForTarget(ctx context.Context, target buildorch.Target) ([]*store.Group, error) {
	return s.listByTargetState(target, store.GroupQueued)
}

func (s *Store) ListPendingForTarget(ctx context.Context, target buildorch.Target) ([]*store.Group, error) {
	return s.listByTargetState(target, store.GroupPending)
}

func (s *Store) ListDispatchingForTarget(ctx context.Context, target buildorch.Target) ([]*store.Group, error) {
	return s.listByTargetState(target, store.GroupDispatching)
}

func (s *Store) listByTargetState(target buildorch.Target, state store.GroupState) ([]*store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Group
	for _, g := range s.groups {
		if g.Target == target && g.State == state {
			out = append(out, clone(*g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TakeNextQueuedForTarget(ctx context.Context, target buildorch.Target) (*store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *store.Group
	for _, g := range s.groups {
		if g.Target != target || g.State != store.GroupQueued {
			continue
		}
		if best == nil || g.CreatedAt.Before(best.CreatedAt) {
			best = g
		}
	}
	if best == nil {
		return nil, nil
	}
	best.State = store.GroupDispatching
	best.UpdatedAt = time.Now()
	return clone(*best), nil
}

// --- Entries ---

func (s *Store) InsertEntries(ctx context.Context, entries []*store.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, e := range entries {
		s.nextEntryID++
		e.ID = s.nextEntryID
		e.CreatedAt = now
		e.UpdatedAt = now
		cp := *e
		s.entries[e.ID] = &cp
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id int64) (*store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindNotFound, nil, "entry %d not found", id)
	}
	return clone(*e), nil
}

func (s *Store) ListEntriesByGroup(ctx context.Context, groupID int64) ([]*store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Entry
	for _, e := range s.entries {
		if e.GroupID == groupID {
			out = append(out, clone(*e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListEntriesByGroupAndState(ctx context.Context, groupID int64, state store.ExecState) ([]*store.Entry, error) {
	all, _ := s.ListEntriesByGroup(ctx, groupID)
	var out []*store.Entry
	for _, e := range all {
		if e.ExecState == state {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) CountEntriesByState(ctx context.Context, groupID int64) (map[store.ExecState]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[store.ExecState]int)
	for _, e := range s.entries {
		if e.GroupID == groupID {
			out[e.ExecState]++
		}
	}
	return out, nil
}

func (s *Store) TransitiveDepsForEntry(ctx context.Context, entryID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]bool{}
	var walk func(id int64)
	walk = func(id int64) {
		e, ok := s.entries[id]
		if !ok {
			return
		}
		for _, d := range e.Dependencies {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(entryID)
	return setToSlice(seen), nil
}

func (s *Store) TransitiveRdepsForEntry(ctx context.Context, entryID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitiveRdepsLocked(entryID), nil
}

func (s *Store) transitiveRdepsLocked(entryID int64) []int64 {
	seen := map[int64]bool{}
	var walk func(id int64)
	walk = func(id int64) {
		for _, e := range s.entries {
			for _, d := range e.Dependencies {
				if d == id && !seen[e.ID] {
					seen[e.ID] = true
					walk(e.ID)
				}
			}
		}
	}
	walk(entryID)
	return setToSlice(seen)
}

func setToSlice(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) MarkEntryComplete(ctx context.Context, entryID int64, asBuilt buildorch.Ident) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindNotFound, nil, "entry %d not found", entryID)
	}
	e.ExecState = store.ExecComplete
	e.AsBuiltIdent = &asBuilt
	e.UpdatedAt = time.Now()

	var promoted []int64
	for _, d := range s.entries {
		if !containsInt64(d.Dependencies, entryID) {
			continue
		}
		if d.ExecState != store.ExecWaitingOnDependency {
			continue
		}
		d.WaitingOnCount--
		d.UpdatedAt = time.Now()
		if d.WaitingOnCount <= 0 {
			d.ExecState = store.ExecReady
			promoted = append(promoted, d.ID)
		}
	}
	sort.Slice(promoted, func(i, j int) bool { return promoted[i] < promoted[j] })
	return promoted, nil
}

func (s *Store) MarkEntryFailed(ctx context.Context, entryID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindNotFound, nil, "entry %d not found", entryID)
	}
	e.ExecState = store.ExecJobFailed
	e.UpdatedAt = time.Now()

	affected := s.transitiveRdepsLocked(entryID)
	for _, id := range affected {
		d := s.entries[id]
		if d.ExecState.Terminal() {
			continue
		}
		d.ExecState = store.ExecDependencyFailed
		d.UpdatedAt = time.Now()
	}
	return affected, nil
}

func containsInt64(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func (s *Store) SetEntryDependencies(ctx context.Context, entryID int64, deps []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return buildorch.Errorf(buildorch.KindNotFound, nil, "entry %d not found", entryID)
	}
	e.Dependencies = append([]int64(nil), deps...)
	e.WaitingOnCount = len(deps)
	e.UpdatedAt = time.Now()
	return nil
}

func (s *Store) BulkSetEntryState(ctx context.Context, ids []int64, state store.ExecState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.ExecState = state
			if state == store.ExecWaitingOnDependency && e.WaitingOnCount == 0 {
				e.ExecState = store.ExecReady
			}
			e.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (s *Store) TakeNextReadyForTarget(ctx context.Context, target buildorch.Target) (*store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *store.Entry
	for _, e := range s.entries {
		if e.Target != target || e.ExecState != store.ExecReady {
			continue
		}
		if best == nil || less(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	best.ExecState = store.ExecRunning
	best.UpdatedAt = time.Now()
	return clone(*best), nil
}

func less(a, b *store.Entry) bool {
	if a.GroupID != b.GroupID {
		return a.GroupID < b.GroupID
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) CountReadyForTarget(ctx context.Context, target buildorch.Target) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Target == target && e.ExecState == store.ExecReady {
			n++
		}
	}
	return n, nil
}

// --- Jobs ---

func (s *Store) CreateJob(ctx context.Context, job *store.Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextJobID++
	job.ID = s.nextJobID
	cp := *job
	s.jobs[job.ID] = &cp
	return job.ID, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindNotFound, nil, "job %d not found", id)
	}
	return clone(*j), nil
}

func (s *Store) UpdateJob(ctx context.Context, job *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return buildorch.Errorf(buildorch.KindNotFound, nil, "job %d not found", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) ListJobsByState(ctx context.Context, state store.JobState) ([]*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Job
	for _, j := range s.jobs {
		if j.State == state {
			out = append(out, clone(*j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListJobsByProject(ctx context.Context, project buildorch.ShortIdent, limit, offset int) ([]*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Job
	for _, j := range s.jobs {
		if j.Project.Origin == project.Origin && j.Project.Name == project.Name {
			out = append(out, clone(*j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkJobArchived(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return buildorch.Errorf(buildorch.KindNotFound, nil, "job %d not found", id)
	}
	j.IsArchived = true
	return nil
}

// --- Workers ---

func workerKey(ident string, jobID int64) [2]interface{} { return [2]interface{}{ident, jobID} }

func (s *Store) ListBusyWorkers(ctx context.Context) ([]*store.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Worker, 0, len(s.busy))
	for _, w := range s.busy {
		out = append(out, clone(*w))
	}
	return out, nil
}

func (s *Store) UpsertBusyWorker(ctx context.Context, ident string, jobID int64, target buildorch.Target, quarantined bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jid := jobID
	s.busy[workerKey(ident, jobID)] = &store.Worker{
		Ident: ident, Target: target, State: store.WorkerBusy, JobID: &jid, Quarantined: quarantined,
	}
	return nil
}

func (s *Store) DeleteBusyWorker(ctx context.Context, ident string, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, workerKey(ident, jobID))
	return nil
}

// --- Channels ---

func (s *Store) GetOrCreateChannel(ctx context.Context, origin, name string) (*store.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{origin, name}
	if ch, ok := s.channels[key]; ok {
		return clone(*ch), nil
	}
	s.nextChannelID++
	ch := &store.Channel{ID: s.nextChannelID, Origin: origin, Name: name}
	s.channels[key] = ch
	return clone(*ch), nil
}

func (s *Store) DeleteChannel(ctx context.Context, origin, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{origin, name}
	if _, ok := s.channels[key]; !ok {
		return buildorch.Errorf(buildorch.KindNotFound, nil, "channel %s/%s not found", origin, name)
	}
	delete(s.channels, key)
	return nil
}

func (s *Store) PromoteToChannel(ctx context.Context, pkgID, channelID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[channelID] == nil {
		s.members[channelID] = make(map[int64]bool)
	}
	if s.members[channelID][pkgID] {
		return false, nil
	}
	s.members[channelID][pkgID] = true
	return true, nil
}

func (s *Store) DemoteFromChannel(ctx context.Context, pkgID, channelID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.members[channelID][pkgID] {
		return false, nil
	}
	delete(s.members[channelID], pkgID)
	return true, nil
}

func (s *Store) ListChannelPackages(ctx context.Context, channelID int64, visible []store.Visibility, limit, offset int) ([]*store.PackageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	visSet := make(map[store.Visibility]bool, len(visible))
	for _, v := range visible {
		visSet[v] = true
	}
	var out []*store.PackageRecord
	for pkgID := range s.members[channelID] {
		p, ok := s.packages[pkgID]
		if !ok || !visSet[p.Visibility] {
			continue
		}
		out = append(out, clone(*p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertPackage persists a newly-uploaded package record
// (spec.md §4.G's JobGraphPackageCreate).
func (s *Store) InsertPackage(ctx context.Context, p *store.PackageRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.packages) + 1)
	cp := *p
	cp.ID = id
	s.packages[id] = &cp
	return id, nil
}

// ListPackagesByTarget returns every package record for target in id order,
// for rebuilding the in-memory dependency graph on startup.
func (s *Store) ListPackagesByTarget(ctx context.Context, target buildorch.Target) ([]*store.PackageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.PackageRecord
	for id := int64(1); id <= int64(len(s.packages)); id++ {
		p, ok := s.packages[id]
		if !ok || p.Target != target {
			continue
		}
		out = append(out, clone(*p))
	}
	return out, nil
}

// --- Audit ---

func (s *Store) InsertAudit(ctx context.Context, rec store.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Timestamp = time.Now()
	s.audit = append(s.audit, rec)
	return nil
}

// --- Project registry ---

func projectKey(name buildorch.ShortIdent, target buildorch.Target) [2]string {
	return [2]string{name.String(), string(target)}
}

func (s *Store) GetProject(ctx context.Context, name buildorch.ShortIdent, target buildorch.Target) (*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectKey(name, target)]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindNotFound, nil, "project %s for %s not found", name, target)
	}
	return clone(*p), nil
}

func (s *Store) ListProjects(ctx context.Context, origin string) ([]*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Project
	for _, p := range s.projects {
		if p.Name.Origin == origin {
			out = append(out, clone(*p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name.Name < out[j].Name.Name })
	return out, nil
}

func (s *Store) CreateProject(ctx context.Context, p *store.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[projectKey(p.Name, p.Target)] = &cp
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, p *store.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := projectKey(p.Name, p.Target)
	if _, ok := s.projects[key]; !ok {
		return buildorch.Errorf(buildorch.KindNotFound, nil, "project %s for %s not found", p.Name, p.Target)
	}
	cp := *p
	s.projects[key] = &cp
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, name buildorch.ShortIdent, target buildorch.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := projectKey(name, target)
	if _, ok := s.projects[key]; !ok {
		return buildorch.Errorf(buildorch.KindNotFound, nil, "project %s for %s not found", name, target)
	}
	delete(s.projects, key)
	return nil
}

var _ store.Store = (*Store)(nil)
