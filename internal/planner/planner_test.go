package planner

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/graph"
	"github.com/distr1/buildorch/internal/store"
	"github.com/distr1/buildorch/internal/store/memstore"
)

func ident(origin, name, version, release string) buildorch.Ident {
	return buildorch.Ident{Origin: origin, Name: name, Version: version, Release: release}
}

func mustExtend(t *testing.T, g *graph.Graph, id buildorch.Ident, deps ...buildorch.Ident) {
	t.Helper()
	edges := make([]graph.Dep, len(deps))
	for i, d := range deps {
		edges[i] = graph.Dep{Ident: d, Kind: graph.EdgeRuntime}
	}
	if _, err := g.TryExtend(id, edges); err != nil {
		t.Fatalf("TryExtend(%s): %v", id, err)
	}
}

// buildDiamond constructs the spec.md §8 diamond: a/top, a/left(->top),
// a/right(->top), a/bottom(->left,->right).
func buildDiamond(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	top := ident("a", "top", "1", "1")
	left := ident("a", "left", "1", "1")
	right := ident("a", "right", "1", "1")
	bottom := ident("a", "bottom", "1", "1")
	mustExtend(t, g, top)
	mustExtend(t, g, left, top)
	mustExtend(t, g, right, top)
	mustExtend(t, g, bottom, left, right)
	return g
}

func registerProject(t *testing.T, st store.Store, name buildorch.ShortIdent, target buildorch.Target) {
	t.Helper()
	if err := st.CreateProject(context.Background(), &store.Project{
		Name: name, Target: target, AutoBuild: true,
	}); err != nil {
		t.Fatalf("CreateProject(%s): %v", name, err)
	}
}

func newTestPlanner(t *testing.T, g *graph.Graph) (*Planner, store.Store) {
	t.Helper()
	st := memstore.New()
	for _, name := range []string{"top", "left", "right", "bottom"} {
		registerProject(t, st, buildorch.ShortIdent{Origin: "a", Name: name}, buildorch.TargetX8664Linux)
	}
	p := &Planner{
		Log:    log.New(io.Discard, "", 0),
		Store:  st,
		Graphs: map[buildorch.Target]*graph.Graph{buildorch.TargetX8664Linux: g},
	}
	return p, st
}

func TestSpecDiamondTouchingTopRebuildsAllFour(t *testing.T) {
	g := buildDiamond(t)
	p, st := newTestPlanner(t, g)

	res, err := p.Spec(context.Background(), SpecRequest{Origin: "a", Package: "top", Target: buildorch.TargetX8664Linux})
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}
	if res.GroupID == 0 {
		t.Fatal("Spec did not return a group id")
	}

	entries, err := st.ListEntriesByGroup(context.Background(), res.GroupID)
	if err != nil {
		t.Fatalf("ListEntriesByGroup: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, want 4", len(entries))
	}

	byName := make(map[string]*store.Entry, 4)
	for _, e := range entries {
		byName[e.ProjectName.Name] = e
		if e.ExecState != store.ExecPending {
			t.Errorf("entry %s exec_state = %s, want pending", e.ProjectName.Name, e.ExecState)
		}
	}

	// top has no dependencies at all, so no in-group deps.
	if n := len(byName["top"].Dependencies); n != 0 {
		t.Errorf("top has %d dependencies, want 0", n)
	}
	// left and right each depend on top.
	for _, name := range []string{"left", "right"} {
		deps := byName[name].Dependencies
		if len(deps) != 1 || deps[0] != byName["top"].ID {
			t.Errorf("%s.Dependencies = %v, want [%d]", name, deps, byName["top"].ID)
		}
		if byName[name].WaitingOnCount != 1 {
			t.Errorf("%s.WaitingOnCount = %d, want 1", name, byName[name].WaitingOnCount)
		}
	}
	// bottom depends on both left and right.
	if len(byName["bottom"].Dependencies) != 2 {
		t.Errorf("bottom.Dependencies = %v, want 2 entries", byName["bottom"].Dependencies)
	}
}

func TestSpecSkipsUnregisteredProject(t *testing.T) {
	g := graph.New()
	mustExtend(t, g, ident("a", "solo", "1", "1"))
	st := memstore.New()
	// Deliberately do not register a project for a/solo.
	p := &Planner{
		Log:    log.New(io.Discard, "", 0),
		Store:  st,
		Graphs: map[buildorch.Target]*graph.Graph{buildorch.TargetX8664Linux: g},
	}

	res, err := p.Spec(context.Background(), SpecRequest{Origin: "a", Package: "solo", Target: buildorch.TargetX8664Linux})
	if buildorch.KindOf(err) != buildorch.KindNotFound {
		t.Fatalf("Spec error kind = %v, want NotFound", buildorch.KindOf(err))
	}
	if res == nil || len(res.Dispositions) != 1 || res.Dispositions[0].Disposition != DispositionMissing {
		t.Fatalf("Spec dispositions = %+v, want one Missing", res)
	}
}

func TestSpecUnsupportedTarget(t *testing.T) {
	p := &Planner{Log: log.New(io.Discard, "", 0), Store: memstore.New(), Graphs: map[buildorch.Target]*graph.Graph{}}
	_, err := p.Spec(context.Background(), SpecRequest{Origin: "a", Package: "top", Target: buildorch.TargetX8664Windows})
	if buildorch.KindOf(err) != buildorch.KindUnsupportedTarget {
		t.Fatalf("Spec error kind = %v, want UnsupportedTarget", buildorch.KindOf(err))
	}
}
