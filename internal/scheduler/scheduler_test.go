package scheduler

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/graph"
	"github.com/distr1/buildorch/internal/planner"
	"github.com/distr1/buildorch/internal/store"
	"github.com/distr1/buildorch/internal/store/memstore"
)

func testLog() *log.Logger { return log.New(io.Discard, "", 0) }

func ident(origin, name, version, release string) buildorch.Ident {
	return buildorch.Ident{Origin: origin, Name: name, Version: version, Release: release}
}

func extend(t *testing.T, g *graph.Graph, id buildorch.Ident, deps ...buildorch.Ident) {
	t.Helper()
	edges := make([]graph.Dep, len(deps))
	for i, d := range deps {
		edges[i] = graph.Dep{Ident: d, Kind: graph.EdgeRuntime}
	}
	if _, err := g.TryExtend(id, edges); err != nil {
		t.Fatalf("TryExtend(%s): %v", id, err)
	}
}

func planSingle(t *testing.T, st store.Store, g *graph.Graph, origin, name string, target buildorch.Target) int64 {
	t.Helper()
	p := &planner.Planner{Log: testLog(), Store: st, Graphs: map[buildorch.Target]*graph.Graph{target: g}}
	res, err := p.Spec(context.Background(), planner.SpecRequest{Origin: origin, Package: name, Target: target})
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}
	return res.GroupID
}

// TestSingleGroupRunsToCompletion exercises spec.md §8 scenario S1: one
// group with one entry, no dependencies, that finishes successfully.
func TestSingleGroupRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	target := buildorch.TargetX8664Linux
	if err := st.CreateProject(ctx, &store.Project{Name: buildorch.ShortIdent{Origin: "a", Name: "solo"}, Target: target, AutoBuild: true}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	g := graph.New()
	extend(t, g, ident("a", "solo", "1", "1"))
	groupID := planSingle(t, st, g, "a", "solo", target)

	s := New(testLog(), st, []buildorch.Target{target})

	if err := s.promoteAndDispatch(ctx, target); err != nil {
		t.Fatalf("promoteAndDispatch: %v", err)
	}
	grp, err := st.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if grp.State != store.GroupDispatching {
		t.Fatalf("group state = %s, want dispatching", grp.State)
	}

	e, err := st.TakeNextReadyForTarget(ctx, target)
	if err != nil {
		t.Fatalf("TakeNextReadyForTarget: %v", err)
	}
	if e == nil {
		t.Fatal("no ready entry: want the solo entry")
	}

	if err := s.handleFinished(ctx, finishedMsg{entryID: e.ID, ok: true, asBuilt: e.ManifestIdent}); err != nil {
		t.Fatalf("handleFinished: %v", err)
	}

	grp, err = st.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("GetGroup after completion: %v", err)
	}
	if grp.State != store.GroupComplete {
		t.Fatalf("group state after completion = %s, want complete", grp.State)
	}
}

// TestDiamondOneFailureFailsDependents exercises spec.md §8 scenario S2:
// top fails, so left/right/bottom are all flooded to dependency_failed and
// the group finalizes as failed even though top itself is the only entry
// that ever ran.
func TestDiamondOneFailureFailsDependents(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	target := buildorch.TargetX8664Linux
	for _, name := range []string{"top", "left", "right", "bottom"} {
		if err := st.CreateProject(ctx, &store.Project{Name: buildorch.ShortIdent{Origin: "a", Name: name}, Target: target, AutoBuild: true}); err != nil {
			t.Fatalf("CreateProject(%s): %v", name, err)
		}
	}
	g := graph.New()
	top := ident("a", "top", "1", "1")
	left := ident("a", "left", "1", "1")
	right := ident("a", "right", "1", "1")
	bottom := ident("a", "bottom", "1", "1")
	extend(t, g, top)
	extend(t, g, left, top)
	extend(t, g, right, top)
	extend(t, g, bottom, left, right)
	groupID := planSingle(t, st, g, "a", "top", target)

	s := New(testLog(), st, []buildorch.Target{target})
	if err := s.promoteAndDispatch(ctx, target); err != nil {
		t.Fatalf("promoteAndDispatch: %v", err)
	}

	e, err := st.TakeNextReadyForTarget(ctx, target)
	if err != nil {
		t.Fatalf("TakeNextReadyForTarget: %v", err)
	}
	if e == nil || e.ProjectName.Name != "top" {
		t.Fatalf("first ready entry = %+v, want top", e)
	}

	if err := s.handleFinished(ctx, finishedMsg{entryID: e.ID, ok: false}); err != nil {
		t.Fatalf("handleFinished: %v", err)
	}

	entries, err := st.ListEntriesByGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("ListEntriesByGroup: %v", err)
	}
	for _, entry := range entries {
		switch entry.ProjectName.Name {
		case "top":
			if entry.ExecState != store.ExecJobFailed {
				t.Errorf("top exec_state = %s, want job_failed", entry.ExecState)
			}
		default:
			if entry.ExecState != store.ExecDependencyFailed {
				t.Errorf("%s exec_state = %s, want dependency_failed", entry.ProjectName.Name, entry.ExecState)
			}
		}
	}

	grp, err := st.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if grp.State != store.GroupFailed {
		t.Fatalf("group state = %s, want failed", grp.State)
	}
}

// TestDiamondLeftFailureLeavesRightCompleteAndFailsBottom exercises spec.md
// §8 scenario S2 literally: top succeeds, left fails, right independently
// proceeds to complete, bottom (depending on both left and right) is
// flooded to dependency_failed as soon as left fails, and the group
// finalizes as failed despite right's own success.
func TestDiamondLeftFailureLeavesRightCompleteAndFailsBottom(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	target := buildorch.TargetX8664Linux
	for _, name := range []string{"top", "left", "right", "bottom"} {
		if err := st.CreateProject(ctx, &store.Project{Name: buildorch.ShortIdent{Origin: "a", Name: name}, Target: target, AutoBuild: true}); err != nil {
			t.Fatalf("CreateProject(%s): %v", name, err)
		}
	}
	g := graph.New()
	top := ident("a", "top", "1", "1")
	left := ident("a", "left", "1", "1")
	right := ident("a", "right", "1", "1")
	bottom := ident("a", "bottom", "1", "1")
	extend(t, g, top)
	extend(t, g, left, top)
	extend(t, g, right, top)
	extend(t, g, bottom, left, right)
	groupID := planSingle(t, st, g, "a", "top", target)

	s := New(testLog(), st, []buildorch.Target{target})
	if err := s.promoteAndDispatch(ctx, target); err != nil {
		t.Fatalf("promoteAndDispatch: %v", err)
	}

	topEntry, err := st.TakeNextReadyForTarget(ctx, target)
	if err != nil {
		t.Fatalf("TakeNextReadyForTarget(top): %v", err)
	}
	if topEntry == nil || topEntry.ProjectName.Name != "top" {
		t.Fatalf("first ready entry = %+v, want top", topEntry)
	}
	if err := s.handleFinished(ctx, finishedMsg{entryID: topEntry.ID, ok: true, asBuilt: topEntry.ManifestIdent}); err != nil {
		t.Fatalf("handleFinished(top): %v", err)
	}

	byName := map[string]*store.Entry{}
	for i := 0; i < 2; i++ {
		e, err := st.TakeNextReadyForTarget(ctx, target)
		if err != nil {
			t.Fatalf("TakeNextReadyForTarget(%d): %v", i, err)
		}
		if e == nil {
			t.Fatalf("ready entry %d = nil, want left or right", i)
		}
		byName[e.ProjectName.Name] = e
	}
	leftEntry, rightEntry := byName["left"], byName["right"]
	if leftEntry == nil || rightEntry == nil {
		t.Fatalf("ready entries = %+v, want both left and right", byName)
	}

	if err := s.handleFinished(ctx, finishedMsg{entryID: leftEntry.ID, ok: false}); err != nil {
		t.Fatalf("handleFinished(left): %v", err)
	}
	if err := s.handleFinished(ctx, finishedMsg{entryID: rightEntry.ID, ok: true, asBuilt: rightEntry.ManifestIdent}); err != nil {
		t.Fatalf("handleFinished(right): %v", err)
	}

	entries, err := st.ListEntriesByGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("ListEntriesByGroup: %v", err)
	}
	want := map[string]store.ExecState{
		"top":    store.ExecComplete,
		"left":   store.ExecJobFailed,
		"right":  store.ExecComplete,
		"bottom": store.ExecDependencyFailed,
	}
	for _, entry := range entries {
		if got, ok := want[entry.ProjectName.Name]; ok && entry.ExecState != got {
			t.Errorf("%s exec_state = %s, want %s", entry.ProjectName.Name, entry.ExecState, got)
		}
	}

	grp, err := st.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if grp.State != store.GroupFailed {
		t.Fatalf("group state = %s, want failed", grp.State)
	}
}

// TestPromoteQueuedSerializesPerProject exercises the per-project
// serialization rule in spec.md §4.C: two groups for the same root project
// and target cannot both be pending/dispatching at once.
func TestPromoteQueuedSerializesPerProject(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	target := buildorch.TargetX8664Linux
	if err := st.CreateProject(ctx, &store.Project{Name: buildorch.ShortIdent{Origin: "a", Name: "solo"}, Target: target, AutoBuild: true}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	root := buildorch.ShortIdent{Origin: "a", Name: "solo"}
	first, err := st.InsertGroup(ctx, &store.Group{RootProject: root, Target: target, State: store.GroupQueued})
	if err != nil {
		t.Fatalf("InsertGroup(first): %v", err)
	}
	second, err := st.InsertGroup(ctx, &store.Group{RootProject: root, Target: target, State: store.GroupQueued})
	if err != nil {
		t.Fatalf("InsertGroup(second): %v", err)
	}

	s := New(testLog(), st, []buildorch.Target{target})
	if err := s.promoteQueued(ctx, target); err != nil {
		t.Fatalf("promoteQueued: %v", err)
	}

	g1, err := st.GetGroup(ctx, first)
	if err != nil {
		t.Fatalf("GetGroup(first): %v", err)
	}
	g2, err := st.GetGroup(ctx, second)
	if err != nil {
		t.Fatalf("GetGroup(second): %v", err)
	}
	if g1.State != store.GroupPending {
		t.Errorf("first group state = %s, want pending", g1.State)
	}
	if g2.State != store.GroupQueued {
		t.Errorf("second group state = %s, want still queued (blocked by first)", g2.State)
	}
}
