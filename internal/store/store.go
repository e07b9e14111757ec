// Package store defines the persistence interface the core depends on
// (spec.md §4.B): durable records for groups, job-graph entries, jobs,
// workers, the channel/audit log, and the project registry. The core never
// assumes a specific schema — only these operations and their invariants.
//
// Two implementations exist: postgres (the real, durable implementation,
// built on sqlx+pgx+goose) and memstore (an in-process fake used by
// scheduler/planner/worker-manager tests that must not require a live
// database).
package store

import (
	"context"
	"time"

	"github.com/distr1/buildorch"
)

// GroupState is the lifecycle state of a Group (spec.md §3).
type GroupState string

const (
	GroupQueued      GroupState = "queued"
	GroupPending     GroupState = "pending"
	GroupDispatching GroupState = "dispatching"
	GroupComplete    GroupState = "complete"
	GroupFailed      GroupState = "failed"
	GroupCanceled    GroupState = "canceled"
)

// Terminal reports whether s is one of the states that never transitions
// further.
func (s GroupState) Terminal() bool {
	switch s {
	case GroupComplete, GroupFailed, GroupCanceled:
		return true
	default:
		return false
	}
}

// Group is a unit of work submitted to the scheduler (spec.md §3).
type Group struct {
	ID          int64
	RootProject buildorch.ShortIdent
	Target      buildorch.Target
	State       GroupState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ExecState is the lifecycle state of one job-graph Entry (spec.md §3's
// exec_state transition diagram).
type ExecState string

const (
	ExecPending             ExecState = "pending"
	ExecWaitingOnDependency ExecState = "waiting_on_dependency"
	ExecReady               ExecState = "ready"
	ExecRunning             ExecState = "running"
	ExecComplete            ExecState = "complete"
	ExecJobFailed           ExecState = "job_failed"
	ExecDependencyFailed    ExecState = "dependency_failed"
	ExecCancelPending       ExecState = "cancel_pending"
	ExecCancelComplete      ExecState = "cancel_complete"
)

// Terminal reports whether s never transitions further.
func (s ExecState) Terminal() bool {
	switch s {
	case ExecComplete, ExecJobFailed, ExecDependencyFailed, ExecCancelComplete:
		return true
	default:
		return false
	}
}

// Entry is one planned package build within a Group (spec.md §3).
type Entry struct {
	ID             int64
	GroupID        int64
	ProjectName    buildorch.ShortIdent
	ManifestIdent  buildorch.Ident
	AsBuiltIdent   *buildorch.Ident
	JobID          *int64
	ExecState      ExecState
	Dependencies   []int64
	WaitingOnCount int
	Target         buildorch.Target
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobState is the lifecycle state of a dispatched Job (spec.md §3).
type JobState string

const (
	JobDispatched     JobState = "dispatched"
	JobRunning        JobState = "running"
	JobComplete       JobState = "complete"
	JobFailed         JobState = "failed"
	JobCancelPending  JobState = "cancel_pending"
	JobCancelComplete JobState = "cancel_complete"
)

// Terminal reports whether s never transitions further.
func (s JobState) Terminal() bool {
	switch s {
	case JobComplete, JobFailed, JobCancelComplete:
		return true
	default:
		return false
	}
}

// ProjectRef names the project a Job builds: origin, package name, the plan
// path within the origin's VCS checkout, and the VCS coordinates used to
// fetch it (spec.md §3's "project (origin, name, plan path, vcs data)").
type ProjectRef struct {
	Origin   string
	Name     string
	PlanPath string
	VCSRepo  string
	VCSRef   string
}

// JobErr is the structured failure a terminal Job carries so the gateway
// can render it to the user (spec.md §7).
type JobErr struct {
	Code    buildorch.Kind
	Message string
}

// Job is the execution record created when an Entry is dispatched
// (spec.md §3).
type Job struct {
	ID              int64
	EntryID         int64
	WorkerIdent     string
	Project         ProjectRef
	State           JobState
	BuildStartedAt  *time.Time
	BuildFinishedAt *time.Time
	PackageIdent    *buildorch.Ident
	Error           *JobErr
	Channel         string
	Target          buildorch.Target
	IsArchived      bool
}

// WorkerState mirrors spec.md §3/§4.E's two-state worker model.
type WorkerState string

const (
	WorkerReady WorkerState = "ready"
	WorkerBusy  WorkerState = "busy"
)

// Worker is the connected-worker bookkeeping row (spec.md §3).
type Worker struct {
	Ident       string
	Target      buildorch.Target
	State       WorkerState
	Expiry      time.Time
	JobID       *int64
	JobExpiry   *time.Time
	Canceling   bool
	Quarantined bool
}

// Visibility controls which packages a caller may see (spec.md §3/§4.B).
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityHidden  Visibility = "hidden"
)

// Channel is a named promotion target within an origin (spec.md §3).
type Channel struct {
	ID     int64
	Origin string
	Name   string
}

// PackageRecord is the immutable build record spec.md §3 describes.
type PackageRecord struct {
	ID         int64
	Ident      buildorch.Ident
	Target     buildorch.Target
	Deps       []buildorch.Ident
	BuildDeps  []buildorch.Ident
	Manifest   string
	Checksum   string
	Visibility Visibility
}

// AuditOp is one of the two channel-mutation operations spec.md §3 audits.
type AuditOp string

const (
	AuditPromote AuditOp = "promote"
	AuditDemote  AuditOp = "demote"
)

// AuditRecord is one append-only audit row (spec.md §3). Exactly one of
// PackageID/GroupID is set, matching "the group-level analogue keyed by
// group_id".
type AuditRecord struct {
	PackageID     int64
	GroupID       int64
	ChannelID     int64
	Op            AuditOp
	Trigger       string
	RequesterID   string
	RequesterName string
	Origin        string
	Timestamp     time.Time
}

// Project is one row in the project registry (spec.md §4.B, keyed by
// (name, target) where name = origin/pkg).
type Project struct {
	Name      buildorch.ShortIdent
	Target    buildorch.Target
	PlanPath  string
	AutoBuild bool
	Excluded  bool
	VCSRepo   string
}

// Store is the full persistence surface the core depends on.
// ListChannelPackages takes the Visibility set the caller is entitled to;
// the other list operations take no Visibility set and do not filter by it.
type Store interface {
	// Groups
	InsertGroup(ctx context.Context, g *Group) (int64, error)
	GetGroup(ctx context.Context, id int64) (*Group, error)
	ListGroupsByOrigin(ctx context.Context, origin string, limit int) ([]*Group, error)
	SetGroupState(ctx context.Context, id int64, state GroupState) error
	CancelGroup(ctx context.Context, id int64) error
	ListQueuedForTarget(ctx context.Context, target buildorch.Target) ([]*Group, error)
	ListPendingForTarget(ctx context.Context, target buildorch.Target) ([]*Group, error)
	ListDispatchingForTarget(ctx context.Context, target buildorch.Target) ([]*Group, error)
	TakeNextQueuedForTarget(ctx context.Context, target buildorch.Target) (*Group, error)

	// Entries
	InsertEntries(ctx context.Context, entries []*Entry) error
	GetEntry(ctx context.Context, id int64) (*Entry, error)
	ListEntriesByGroup(ctx context.Context, groupID int64) ([]*Entry, error)
	ListEntriesByGroupAndState(ctx context.Context, groupID int64, state ExecState) ([]*Entry, error)
	CountEntriesByState(ctx context.Context, groupID int64) (map[ExecState]int, error)
	TransitiveDepsForEntry(ctx context.Context, entryID int64) ([]int64, error)
	TransitiveRdepsForEntry(ctx context.Context, entryID int64) ([]int64, error)
	MarkEntryComplete(ctx context.Context, entryID int64, asBuilt buildorch.Ident) (promoted []int64, err error)
	MarkEntryFailed(ctx context.Context, entryID int64) (affected []int64, err error)
	BulkSetEntryState(ctx context.Context, ids []int64, state ExecState) error
	// SetEntryDependencies fixes up entryID's in-group dependency list once
	// every sibling entry in the group has a real id (the planner inserts all
	// entries for a group first, then resolves short-ident dependency edges
	// to entry ids in a second pass, since an entry may depend on one created
	// later in insertion order within a cyclic build-edge component).
	SetEntryDependencies(ctx context.Context, entryID int64, deps []int64) error
	TakeNextReadyForTarget(ctx context.Context, target buildorch.Target) (*Entry, error)
	CountReadyForTarget(ctx context.Context, target buildorch.Target) (int, error)

	// Jobs
	CreateJob(ctx context.Context, job *Job) (int64, error)
	GetJob(ctx context.Context, id int64) (*Job, error)
	UpdateJob(ctx context.Context, job *Job) error
	ListJobsByState(ctx context.Context, state JobState) ([]*Job, error)
	ListJobsByProject(ctx context.Context, project buildorch.ShortIdent, limit, offset int) ([]*Job, error)
	MarkJobArchived(ctx context.Context, id int64) error

	// Workers
	ListBusyWorkers(ctx context.Context) ([]*Worker, error)
	UpsertBusyWorker(ctx context.Context, ident string, jobID int64, target buildorch.Target, quarantined bool) error
	DeleteBusyWorker(ctx context.Context, ident string, jobID int64) error

	// Channels
	GetOrCreateChannel(ctx context.Context, origin, name string) (*Channel, error)
	DeleteChannel(ctx context.Context, origin, name string) error
	PromoteToChannel(ctx context.Context, pkgID, channelID int64) (changed bool, err error)
	DemoteFromChannel(ctx context.Context, pkgID, channelID int64) (changed bool, err error)
	ListChannelPackages(ctx context.Context, channelID int64, visible []Visibility, limit, offset int) ([]*PackageRecord, error)
	// InsertPackage persists a newly-uploaded package record
	// (spec.md §4.G's JobGraphPackageCreate).
	InsertPackage(ctx context.Context, p *PackageRecord) (int64, error)
	// ListPackagesByTarget returns every package record for target, in
	// insertion order. The core uses this once, at startup, to rebuild the
	// in-memory dependency graph from durable state (spec.md's "process-local
	// state rebuilt on startup from the package records in the store").
	ListPackagesByTarget(ctx context.Context, target buildorch.Target) ([]*PackageRecord, error)

	// Audit
	InsertAudit(ctx context.Context, rec AuditRecord) error

	// Project registry
	GetProject(ctx context.Context, name buildorch.ShortIdent, target buildorch.Target) (*Project, error)
	ListProjects(ctx context.Context, origin string) ([]*Project, error)
	CreateProject(ctx context.Context, p *Project) error
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, name buildorch.ShortIdent, target buildorch.Target) error
}
