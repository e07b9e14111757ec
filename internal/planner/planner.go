// Package planner implements the job-graph planner (spec.md §4.C): given a
// build trigger it consults the dependency graph (internal/graph) for the
// rebuild set, persists a Group and its Entries to the store
// (internal/store), and reports which packages were skipped as unbuildable.
package planner

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/xerrors"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/graph"
	"github.com/distr1/buildorch/internal/store"
)

// Planner plans and persists build groups. One Graph is kept per target,
// matching the teacher's per-architecture build graph in internal/batch.
type Planner struct {
	Log    *log.Logger
	Store  store.Store
	Graphs map[buildorch.Target]*graph.Graph
}

// SpecRequest is JobGroupSpec's input (spec.md §4.G).
type SpecRequest struct {
	Origin      string
	Package     string
	Target      buildorch.Target
	TriggeredBy string
	Requester   string
}

// Disposition is one package's fate within a planned group.
type Disposition string

const (
	DispositionQueued  Disposition = "queued"
	DispositionSkipped Disposition = "skipped"
	DispositionMissing Disposition = "missing"
)

// PackageDisposition reports what happened to one candidate package.
type PackageDisposition struct {
	Package     buildorch.ShortIdent
	Disposition Disposition
	Reason      string
}

// SpecResult is JobGroupSpec's output.
type SpecResult struct {
	GroupID      int64
	Dispositions []PackageDisposition
}

// Spec runs the planner algorithm described in spec.md §4.C.
func (p *Planner) Spec(ctx context.Context, req SpecRequest) (*SpecResult, error) {
	g, ok := p.Graphs[req.Target]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindUnsupportedTarget, nil, "target %s is not configured", req.Target)
	}

	touched := buildorch.ShortIdent{Origin: req.Origin, Name: req.Package}
	oracle := &storeOracle{ctx: ctx, store: p.Store, target: req.Target}
	manifest, err := g.ComputeBuild([]buildorch.ShortIdent{touched}, oracle, req.Origin)
	if err != nil {
		return nil, xerrors.Errorf("planner: computing build manifest for %s: %w", touched, err)
	}

	dispositions := make([]PackageDisposition, 0, len(manifest.Rebuild)+len(manifest.UnbuildableReasons))
	for short, reason := range manifest.UnbuildableReasons {
		dispositions = append(dispositions, PackageDisposition{Package: short, Disposition: dispositionForReason(reason), Reason: reason})
	}

	if len(manifest.Rebuild) == 0 {
		return &SpecResult{Dispositions: dispositions}, buildorch.Errorf(buildorch.KindNotFound, nil,
			"no buildable packages for %s/%s on %s", req.Origin, req.Package, req.Target)
	}

	strongBuild := map[[2]buildorch.ShortIdent]bool{} // no strong-build edges tracked outside the graph itself
	components, err := g.BuildOrder(manifest.Rebuild, strongBuild)
	if err != nil {
		return nil, xerrors.Errorf("planner: computing build order for %s: %w", touched, err)
	}

	groupID, err := p.Store.InsertGroup(ctx, &store.Group{
		RootProject: touched,
		Target:      req.Target,
		State:       store.GroupQueued,
	})
	if err != nil {
		return nil, xerrors.Errorf("planner: inserting group for %s: %w", touched, err)
	}

	internalDeps := make(map[buildorch.ShortIdent][]buildorch.ShortIdent, len(manifest.Rebuild))
	for _, e := range manifest.Edges {
		if !e.External {
			internalDeps[e.From] = append(internalDeps[e.From], e.To)
		}
	}

	entries := make([]*store.Entry, 0, len(manifest.Rebuild))
	order := make([]buildorch.ShortIdent, 0, len(manifest.Rebuild))
	for _, comp := range components {
		order = append(order, comp.Members...)
	}

	for _, short := range order {
		ident, ok := g.Resolve(short)
		if !ok {
			ident = buildorch.Ident{Origin: short.Origin, Name: short.Name}
		}
		entries = append(entries, &store.Entry{
			GroupID:       groupID,
			ProjectName:   short,
			ManifestIdent: ident,
			ExecState:     store.ExecPending,
			Target:        req.Target,
		})
		dispositions = append(dispositions, PackageDisposition{Package: short, Disposition: DispositionQueued})
	}

	if err := p.Store.InsertEntries(ctx, entries); err != nil {
		return nil, xerrors.Errorf("planner: inserting entries for group %d: %w", groupID, err)
	}

	entryIDByShort := make(map[buildorch.ShortIdent]int64, len(entries))
	for _, e := range entries {
		entryIDByShort[e.ProjectName] = e.ID
	}

	for _, e := range entries {
		var deps []int64
		for _, depShort := range internalDeps[e.ProjectName] {
			if id, ok := entryIDByShort[depShort]; ok {
				deps = append(deps, id)
			}
		}
		if len(deps) == 0 {
			continue // waiting_on_count already defaults to 0 at insert
		}
		if err := p.Store.SetEntryDependencies(ctx, e.ID, deps); err != nil {
			return nil, xerrors.Errorf("planner: setting dependencies for entry %d: %w", e.ID, err)
		}
	}

	p.Log.Printf("planned group %d for %s on %s: %d entries, %d skipped",
		groupID, touched, req.Target, len(entries), len(manifest.UnbuildableReasons))

	return &SpecResult{GroupID: groupID, Dispositions: dispositions}, nil
}

// dispositionForReason classifies a graph.BuildManifest unbuildable reason
// per spec.md §4.G: "missing" is reserved for packages with no project
// registration at all; everything else the oracle or the forward flood
// reports (excluded, auto-build disabled, a failed lookup, or a package
// unbuildable only because a dependency is) is "skipped".
func dispositionForReason(reason string) Disposition {
	if reason == "no project registration" {
		return DispositionMissing
	}
	return DispositionSkipped
}

// storeOracle implements graph.UnbuildableOracle against the project
// registry (spec.md §4.A step 2: "no project registration, auto-build
// disabled, or a hardcoded exclusion").
type storeOracle struct {
	ctx    context.Context
	store  store.Store
	target buildorch.Target
}

func (o *storeOracle) Unbuildable(short buildorch.ShortIdent) (string, bool) {
	proj, err := o.store.GetProject(o.ctx, short, o.target)
	if err != nil {
		if buildorch.KindOf(err) == buildorch.KindNotFound {
			return "no project registration", true
		}
		return fmt.Sprintf("project lookup failed: %v", err), true
	}
	if proj.Excluded {
		return "excluded", true
	}
	if !proj.AutoBuild {
		return "auto-build disabled", true
	}
	return "", false
}
