package graph

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/distr1/buildorch"
)

func ident(origin, name, version, release string) buildorch.Ident {
	return buildorch.Ident{Origin: origin, Name: name, Version: version, Release: release}
}

func short(origin, name string) buildorch.ShortIdent {
	return buildorch.ShortIdent{Origin: origin, Name: name}
}

func sortedShorts(in []buildorch.ShortIdent) []string {
	var out []string
	for _, s := range in {
		out = append(out, s.String())
	}
	sort.Strings(out)
	return out
}

// TestSelfEdgeRejected covers spec.md §8's boundary behavior: "Self-edge
// attempt → CircularDependency".
func TestSelfEdgeRejected(t *testing.T) {
	g := New()
	_, err := g.TryExtend(ident("foo", "bar", "1", "2"), []Dep{
		{Ident: ident("foo", "bar", "1", "2"), Kind: EdgeRuntime},
	})
	if err != ErrCycle {
		t.Fatalf("TryExtend(self-edge) = %v, want ErrCycle", err)
	}
	if _, ok := g.Resolve(short("foo", "bar")); ok {
		t.Fatalf("graph should be empty after a rejected self-edge")
	}
}

// TestCircularDependencyRolledBack is scenario S3 from spec.md §8: given
// foo/bar -> foo/baz, extending foo/baz -> foo/bar must be rejected and
// leave rdeps(foo/bar) unchanged.
func TestCircularDependencyRolledBack(t *testing.T) {
	g := New()
	if _, err := g.TryExtend(ident("foo", "bar", "1", "2"), []Dep{
		{Ident: ident("foo", "baz", "1", "2"), Kind: EdgeRuntime},
	}); err != nil {
		t.Fatalf("TryExtend(bar->baz): %v", err)
	}

	before := snapshot(g)

	_, err := g.TryExtend(ident("foo", "baz", "1", "2"), []Dep{
		{Ident: ident("foo", "bar", "1", "2"), Kind: EdgeRuntime},
	})
	if err != ErrCycle {
		t.Fatalf("TryExtend(baz->bar) = %v, want ErrCycle", err)
	}

	after := snapshot(g)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("graph mutated by rejected TryExtend (-before +after):\n%s", diff)
	}

	rdeps := g.Rdeps(short("foo", "bar"))
	if len(rdeps) != 1 || rdeps[0].Name != "baz" {
		t.Fatalf("Rdeps(foo/bar) = %v, want [foo/baz]", rdeps)
	}
}

// snapshot captures everything TestCircularDependencyRolledBack needs to
// compare before/after a rejected extension: the latest-ident map and the
// full adjacency, keyed by stable short-ident strings rather than internal
// node ids (which are allocation-order dependent).
type snap struct {
	Latest map[string]buildorch.Ident
	Edges  map[string][]string
}

func snapshot(g *Graph) snap {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := snap{Latest: map[string]buildorch.Ident{}, Edges: map[string][]string{}}
	for short, id := range g.latest {
		s.Latest[short.String()] = id
	}
	for short, edges := range g.deps {
		for _, e := range edges {
			s.Edges[short.String()] = append(s.Edges[short.String()], e.to.String())
		}
		sort.Strings(s.Edges[short.String()])
	}
	return s
}

type staticOracle map[buildorch.ShortIdent]string

func (o staticOracle) Unbuildable(s buildorch.ShortIdent) (string, bool) {
	reason, ok := o[s]
	return reason, ok
}

// TestDiamondRebuildSet is scenario S2's graph shape from spec.md §8:
// A depends on B and C; B and C depend on D. Touching D must rebuild
// {D, B, C, A}.
func TestDiamondRebuildSet(t *testing.T) {
	g := New()
	mustExtend(t, g, ident("a", "top", "1", "1"), nil)
	mustExtend(t, g, ident("a", "left", "1", "1"), []Dep{{Ident: ident("a", "top", "1", "1"), Kind: EdgeRuntime}})
	mustExtend(t, g, ident("a", "right", "1", "1"), []Dep{{Ident: ident("a", "top", "1", "1"), Kind: EdgeRuntime}})
	mustExtend(t, g, ident("a", "bottom", "1", "1"), []Dep{
		{Ident: ident("a", "left", "1", "1"), Kind: EdgeRuntime},
		{Ident: ident("a", "right", "1", "1"), Kind: EdgeRuntime},
	})

	manifest, err := g.ComputeBuild([]buildorch.ShortIdent{short("a", "top")}, staticOracle{}, "")
	if err != nil {
		t.Fatal(err)
	}
	got := sortedShorts(manifest.Rebuild)
	want := []string{"a/bottom", "a/left", "a/right", "a/top"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rebuild set mismatch (-want +got):\n%s", diff)
	}
}

// TestUnbuildablePropagatesForward checks step 3 of compute_build: a
// package depending on a directly-unbuildable package is itself marked
// indirectly unbuildable and removed from the rebuild set.
func TestUnbuildablePropagatesForward(t *testing.T) {
	g := New()
	mustExtend(t, g, ident("a", "base", "1", "1"), nil)
	mustExtend(t, g, ident("a", "mid", "1", "1"), []Dep{{Ident: ident("a", "base", "1", "1"), Kind: EdgeRuntime}})
	mustExtend(t, g, ident("a", "top", "1", "1"), []Dep{{Ident: ident("a", "mid", "1", "1"), Kind: EdgeRuntime}})

	oracle := staticOracle{short("a", "mid"): "auto-build disabled"}
	manifest, err := g.ComputeBuild([]buildorch.ShortIdent{short("a", "base")}, oracle, "")
	if err != nil {
		t.Fatal(err)
	}
	got := sortedShorts(manifest.Rebuild)
	want := []string{"a/base"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rebuild set mismatch (-want +got):\n%s", diff)
	}
	if reason, ok := manifest.UnbuildableReasons[short("a", "mid")]; !ok || reason != "auto-build disabled" {
		t.Fatalf("a/mid reason = %q, %v, want direct reason", reason, ok)
	}
	if _, ok := manifest.UnbuildableReasons[short("a", "top")]; !ok {
		t.Fatalf("a/top should be indirectly unbuildable")
	}
}

func TestMonotoneInsertionNeverRegresses(t *testing.T) {
	g := New()
	mustExtend(t, g, ident("a", "pkg", "2", "200"), nil)
	extended, err := g.TryExtend(ident("a", "pkg", "1", "100"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if extended {
		t.Fatalf("TryExtend with an older ident must be a no-op")
	}
	got, _ := g.Resolve(short("a", "pkg"))
	if got.Release != "200" {
		t.Fatalf("latest ident regressed to release %q", got.Release)
	}
}

func TestCloneIsIndependentOfSource(t *testing.T) {
	g := New()
	mustExtend(t, g, ident("a", "base", "1", "1"), nil)
	mustExtend(t, g, ident("a", "top", "1", "1"), []Dep{{Ident: ident("a", "base", "1", "1"), Kind: EdgeRuntime}})

	cp := g.Clone()

	// Introduce a cycle in the clone only; the source graph must not see it.
	extended, err := cp.TryExtend(ident("a", "base", "2", "2"), []Dep{{Ident: ident("a", "top", "1", "1"), Kind: EdgeRuntime}})
	if err != ErrCycle || extended {
		t.Fatalf("TryExtend on clone: extended=%v err=%v, want ErrCycle", extended, err)
	}

	if got, _ := g.Resolve(short("a", "base")); got.Release != "1" {
		t.Fatalf("source graph mutated: a/base release = %q, want 1", got.Release)
	}

	mustExtend(t, cp, ident("a", "base", "3", "3"), nil)
	if got, _ := g.Resolve(short("a", "base")); got.Release != "1" {
		t.Fatalf("source graph mutated by clone extend: a/base release = %q, want 1", got.Release)
	}
	if got, _ := cp.Resolve(short("a", "base")); got.Release != "3" {
		t.Fatalf("clone not extended: a/base release = %q, want 3", got.Release)
	}
}

func mustExtend(t *testing.T, g *Graph, pkg buildorch.Ident, deps []Dep) {
	t.Helper()
	if _, err := g.TryExtend(pkg, deps); err != nil {
		t.Fatalf("TryExtend(%v): %v", pkg, err)
	}
}
