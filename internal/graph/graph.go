// Package graph maintains the per-target package dependency graph described
// in spec.md §4.A: a directed graph of short idents whose edges are labeled
// runtime, build, or strong-build, kept as the "latest known" relation for
// each short ident.
//
// The representation follows internal/batch's use of
// gonum.org/v1/gonum/graph/simple for the teacher's one-shot batch-build
// graph, generalized into a long-lived, mutable, per-target structure
// guarded by a RWMutex (spec.md §5: "the dependency graph is process-local
// and rebuilt from the store on startup... readers/writers behind a single
// read/write lock").
package graph

import (
	"fmt"
	"sync"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/distr1/buildorch"
)

// EdgeKind labels one dependency edge.
type EdgeKind int

const (
	EdgeRuntime EdgeKind = iota
	EdgeBuild
	EdgeStrongBuild
)

// node is the gonum graph.Node wrapper around one short ident.
type node struct {
	id    int64
	short buildorch.ShortIdent
}

func (n *node) ID() int64 { return n.id }

// edgeKey identifies one directed adjacency for edge-kind lookups; gonum's
// simple.DirectedGraph only carries one edge per (from, to) pair, so the
// kind is tracked out of band in Graph.kinds.
type edgeKey struct {
	from, to int64
}

// Graph is the per-target dependency graph. The zero value is not usable;
// construct with New.
type Graph struct {
	mu sync.RWMutex

	// runtime is the runtime-edge-only view used for cycle detection
	// (invariant B: the runtime subgraph must stay acyclic).
	runtime *simple.DirectedGraph
	// full additionally carries build and strong-build edges, used for
	// rdeps-for-build-ordering and SCC computation.
	full *simple.DirectedGraph

	byShort map[buildorch.ShortIdent]*node
	nextID  int64

	// latest is the monotone "latest known ident" map (invariant A).
	latest map[buildorch.ShortIdent]buildorch.Ident

	// deps records, for each short ident, the (dep short ident, kind) edges
	// belonging to the *latest* ident's manifest, so try_extend can replace
	// a node's outgoing edges wholesale when a newer ident supersedes it.
	deps map[buildorch.ShortIdent][]depEdge
}

type depEdge struct {
	to   buildorch.ShortIdent
	kind EdgeKind
}

// New returns an empty per-target graph.
func New() *Graph {
	return &Graph{
		runtime: simple.NewDirectedGraph(),
		full:    simple.NewDirectedGraph(),
		byShort: make(map[buildorch.ShortIdent]*node),
		latest:  make(map[buildorch.ShortIdent]buildorch.Ident),
		deps:    make(map[buildorch.ShortIdent][]depEdge),
	}
}

// Clone returns a deep copy of g, suitable for speculative mutation (e.g.
// JobGraphPackagePreCreate's "run try_extend on a scratch copy" check)
// without disturbing the live graph a concurrent planner or scheduler is
// reading.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp := &Graph{
		runtime: simple.NewDirectedGraph(),
		full:    simple.NewDirectedGraph(),
		byShort: make(map[buildorch.ShortIdent]*node, len(g.byShort)),
		nextID:  g.nextID,
		latest:  make(map[buildorch.ShortIdent]buildorch.Ident, len(g.latest)),
		deps:    make(map[buildorch.ShortIdent][]depEdge, len(g.deps)),
	}
	for short, n := range g.byShort {
		nn := &node{id: n.id, short: n.short}
		cp.byShort[short] = nn
		cp.runtime.AddNode(nn)
		cp.full.AddNode(nn)
	}
	edges := g.full.Edges()
	for edges.Next() {
		e := edges.Edge()
		from := cp.byShort[e.From().(*node).short]
		to := cp.byShort[e.To().(*node).short]
		cp.full.SetEdge(cp.full.NewEdge(from, to))
	}
	rtEdges := g.runtime.Edges()
	for rtEdges.Next() {
		e := rtEdges.Edge()
		from := cp.byShort[e.From().(*node).short]
		to := cp.byShort[e.To().(*node).short]
		cp.runtime.SetEdge(cp.runtime.NewEdge(from, to))
	}
	for short, ident := range g.latest {
		cp.latest[short] = ident
	}
	for short, d := range g.deps {
		cp.deps[short] = append([]depEdge(nil), d...)
	}
	return cp
}

// Dep describes one dependency edge to extend the graph with.
type Dep struct {
	Ident buildorch.Ident
	Kind  EdgeKind
}

// ErrCycle is returned by TryExtend when committing the extension would
// create a runtime-edge cycle.
var ErrCycle = xerrors.New("graph: would create a runtime-dependency cycle")

func (g *Graph) nodeFor(short buildorch.ShortIdent) *node {
	n, ok := g.byShort[short]
	if ok {
		return n
	}
	n = &node{id: g.nextID, short: short}
	g.nextID++
	g.byShort[short] = n
	g.runtime.AddNode(n)
	g.full.AddNode(n)
	return n
}

// TryExtend implements compute_build's prerequisite mutator (spec.md
// §4.A): if pkg.Short() is unknown, it is added along with its edges; if a
// record already exists but pkg is not newer than the latest known ident,
// TryExtend is a no-op returning (false, nil); otherwise the node's
// outbound edges are replaced and the result is tested for runtime-edge
// acyclicity. On ErrCycle, all state mutated by this call is rolled back so
// a concurrent reader never observes a partially applied extension.
func (g *Graph) TryExtend(pkg buildorch.Ident, edges []Dep) (extended bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	short := pkg.Short()
	if existing, ok := g.latest[short]; ok && !buildorch.Less(existing, pkg) {
		return false, nil // incoming ident is not newer: no-op
	}

	// Snapshot everything TryExtend might mutate so we can roll back.
	prevLatest, hadLatest := g.latest[short]
	prevDeps := append([]depEdge(nil), g.deps[short]...)
	prevNextID := g.nextID
	n := g.nodeFor(short)
	prevRuntimeTo := removeOutgoing(g.runtime, n)
	prevFullTo := removeOutgoing(g.full, n)

	rollback := func() {
		restoreOutgoing(g.runtime, n, prevRuntimeTo)
		restoreOutgoing(g.full, n, prevFullTo)
		if hadLatest {
			g.latest[short] = prevLatest
		} else {
			delete(g.latest, short)
		}
		g.deps[short] = prevDeps
		// Drop the nodes this call created (ids at or past the snapshot).
		for s, created := range g.byShort {
			if created.id >= prevNextID {
				g.runtime.RemoveNode(created.id)
				g.full.RemoveNode(created.id)
				delete(g.byShort, s)
			}
		}
		g.nextID = prevNextID
	}

	newDeps := make([]depEdge, 0, len(edges))
	for _, e := range edges {
		to := g.nodeFor(e.Ident.Short())
		if to.id == n.id {
			rollback()
			return false, ErrCycle // self-edge is always a cycle
		}
		newDeps = append(newDeps, depEdge{to: e.Ident.Short(), kind: e.Kind})
		g.full.SetEdge(g.full.NewEdge(n, to))
		if e.Kind == EdgeRuntime {
			g.runtime.SetEdge(g.runtime.NewEdge(n, to))
		}
	}

	if _, cyc := topo.Sort(g.runtime); cyc != nil {
		rollback()
		return false, ErrCycle
	}

	g.latest[short] = pkg
	g.deps[short] = newDeps
	return true, nil
}

func removeOutgoing(dg *simple.DirectedGraph, n *node) []int64 {
	var to []int64
	it := dg.From(n.ID())
	for it.Next() {
		to = append(to, it.Node().ID())
	}
	for _, id := range to {
		dg.RemoveEdge(n.ID(), id)
	}
	return to
}

func restoreOutgoing(dg *simple.DirectedGraph, n *node, to []int64) {
	// First drop whatever TryExtend may have added since the snapshot.
	var now []int64
	it := dg.From(n.ID())
	for it.Next() {
		now = append(now, it.Node().ID())
	}
	for _, id := range now {
		dg.RemoveEdge(n.ID(), id)
	}
	for _, id := range to {
		dg.SetEdge(dg.NewEdge(n, dg.Node(id)))
	}
}

// Resolve returns the latest fully-qualified ident known for short, if any.
func (g *Graph) Resolve(short buildorch.ShortIdent) (buildorch.Ident, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.latest[short]
	return id, ok
}

// Rdeps returns the transitive reverse dependencies of short under runtime
// edges only, i.e. every short ident whose latest manifest (transitively)
// requires short at runtime.
func (g *Graph) Rdeps(short buildorch.ShortIdent) []buildorch.Ident {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.byShort[short]
	if !ok {
		return nil
	}
	seen := map[int64]bool{n.ID(): true}
	var out []buildorch.Ident
	queue := []int64{n.ID()}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		it := g.runtime.To(cur)
		for it.Next() {
			id := it.Node().ID()
			if seen[id] {
				continue
			}
			seen[id] = true
			rn := it.Node().(*node)
			if ident, ok := g.latest[rn.short]; ok {
				out = append(out, ident)
			}
			queue = append(queue, id)
		}
	}
	return out
}

// floodIncoming returns every short ident reachable by walking edges
// "backwards" (i.e. toward dependents) starting from seeds, over both
// runtime and build edges, restricted to origin if origin != "".
func (g *Graph) floodIncoming(seeds []buildorch.ShortIdent, origin string) map[buildorch.ShortIdent]bool {
	out := make(map[buildorch.ShortIdent]bool)
	var queue []int64
	for _, s := range seeds {
		if n, ok := g.byShort[s]; ok {
			if !out[s] {
				out[s] = true
				queue = append(queue, n.ID())
			}
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		it := g.full.To(cur)
		for it.Next() {
			rn := it.Node().(*node)
			if origin != "" && rn.short.Origin != origin {
				continue
			}
			if out[rn.short] {
				continue
			}
			out[rn.short] = true
			queue = append(queue, rn.id)
		}
	}
	return out
}

// floodForward walks edges from seeds toward their dependents (the packages
// that depend on them), restricted to the candidate set, used to propagate
// unbuildability.
func (g *Graph) floodForward(seeds map[buildorch.ShortIdent]bool, candidates map[buildorch.ShortIdent]bool) map[buildorch.ShortIdent]bool {
	out := make(map[buildorch.ShortIdent]bool)
	var queue []buildorch.ShortIdent
	for s := range seeds {
		out[s] = true
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := g.byShort[cur]
		if !ok {
			continue
		}
		it := g.full.To(n.ID())
		for it.Next() {
			rn := it.Node().(*node)
			if !candidates[rn.short] || out[rn.short] {
				continue
			}
			out[rn.short] = true
			queue = append(queue, rn.short)
		}
	}
	return out
}

// UnbuildableOracle classifies candidate short idents as unbuildable
// (spec.md §4.A step 2: no project registration, auto-build disabled, or a
// hardcoded exclusion).
type UnbuildableOracle interface {
	Unbuildable(short buildorch.ShortIdent) (reason string, unbuildable bool)
}

// RebuildEdge is one edge in the computed rebuild graph.
type RebuildEdge struct {
	From, To buildorch.ShortIdent
	// External is true when To is resolved outside the rebuild set (pinned
	// to the latest known ident at plan time) rather than built alongside
	// From in the same group.
	External   bool
	ResolvedTo buildorch.Ident
}

// BuildManifest is the output of ComputeBuild: spec.md §4.A step 5.
type BuildManifest struct {
	// InputSet is the original touched set, retained for the "X is Direct"
	// round-trip law in spec.md §8.
	InputSet []buildorch.ShortIdent
	// Rebuild is the final candidate set after removing (in)directly
	// unbuildable nodes.
	Rebuild []buildorch.ShortIdent
	Edges   []RebuildEdge
	// UnbuildableReasons maps every directly or indirectly unbuildable
	// short ident encountered to its reason (direct) or "dependency
	// unbuildable: <dep>" (indirect).
	UnbuildableReasons map[buildorch.ShortIdent]string
}

// ComputeBuild implements spec.md §4.A's compute_build algorithm.
func (g *Graph) ComputeBuild(touched []buildorch.ShortIdent, oracle UnbuildableOracle, origin string) (*BuildManifest, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(touched) == 0 {
		return &BuildManifest{UnbuildableReasons: map[buildorch.ShortIdent]string{}}, nil
	}

	candidates := g.floodIncoming(touched, origin)

	directUnbuildable := make(map[buildorch.ShortIdent]bool)
	reasons := make(map[buildorch.ShortIdent]string)
	for c := range candidates {
		if reason, bad := oracle.Unbuildable(c); bad {
			directUnbuildable[c] = true
			reasons[c] = reason
		}
	}

	indirect := g.floodForward(directUnbuildable, candidates)
	for c := range indirect {
		if directUnbuildable[c] {
			continue
		}
		dep := c
		for _, de := range g.deps[c] {
			if indirect[de.to] {
				dep = de.to
				break
			}
		}
		reasons[c] = fmt.Sprintf("dependency unbuildable: %s", dep)
	}

	rebuildSet := make(map[buildorch.ShortIdent]bool)
	for c := range candidates {
		if indirect[c] {
			continue
		}
		rebuildSet[c] = true
	}

	var rebuild []buildorch.ShortIdent
	var edges []RebuildEdge
	for c := range rebuildSet {
		rebuild = append(rebuild, c)
		n := g.byShort[c]
		for _, de := range g.deps[c] {
			if !rebuildSet[de.to] {
				resolved, ok := g.latest[de.to]
				if !ok {
					continue // dep has no known build yet; nothing to pin
				}
				edges = append(edges, RebuildEdge{From: c, To: de.to, External: true, ResolvedTo: resolved})
				continue
			}
			edges = append(edges, RebuildEdge{From: c, To: de.to, External: false})
		}
		_ = n
	}

	return &BuildManifest{
		InputSet:           touched,
		Rebuild:            rebuild,
		Edges:              edges,
		UnbuildableReasons: reasons,
	}, nil
}

// Component is one strongly connected component of the runtime+strong-build
// subgraph, in build order (spec.md §4.A "Build ordering").
type Component struct {
	Members []buildorch.ShortIdent
	// Cyclic is true when Members has more than one element, i.e. the
	// component only holds together because of build-only edges; plain
	// build edges inside a cyclic component do not constrain ordering.
	Cyclic bool
}

// BuildOrder computes the strongly connected components of the
// runtime+strong-build edge subgraph restricted to members, in topological
// order, and a worklist order within each component using strong-build
// edges (plain build edges are ignored for ordering purposes).
func (g *Graph) BuildOrder(members []buildorch.ShortIdent, strongBuild map[[2]buildorch.ShortIdent]bool) ([]Component, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	memberSet := make(map[buildorch.ShortIdent]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}

	sub := simple.NewDirectedGraph()
	subNodes := make(map[buildorch.ShortIdent]*node)
	for _, m := range members {
		n := &node{id: g.byShort[m].ID(), short: m}
		subNodes[m] = n
		sub.AddNode(n)
	}
	for _, m := range members {
		it := g.runtime.From(g.byShort[m].ID())
		for it.Next() {
			rn := it.Node().(*node)
			if memberSet[rn.short] {
				sub.SetEdge(sub.NewEdge(subNodes[m], subNodes[rn.short]))
			}
		}
		for pair := range strongBuild {
			if pair[0] == m && memberSet[pair[1]] {
				sub.SetEdge(sub.NewEdge(subNodes[m], subNodes[pair[1]]))
			}
		}
	}

	sccs := topo.TarjanSCC(sub)
	// TarjanSCC returns components in reverse topological order.
	components := make([]Component, 0, len(sccs))
	for i := len(sccs) - 1; i >= 0; i-- {
		scc := sccs[i]
		comp := Component{Cyclic: len(scc) > 1}
		ordered, err := worklistOrder(sub, scc)
		if err != nil {
			return nil, err
		}
		for _, n := range ordered {
			comp.Members = append(comp.Members, n.(*node).short)
		}
		components = append(components, comp)
	}
	return components, nil
}

// worklistOrder performs a topological sort restricted to the nodes in scc;
// if scc itself has a cycle (possible when strong-build edges are
// involved), nodes are returned in a stable, arbitrary but deterministic
// order instead of failing, since build-only cycles must not block
// scheduling (spec.md: "cycles among build-only edges are made visible" via
// Component.Cyclic, not rejected).
func worklistOrder(g graph.Directed, scc []graph.Node) ([]graph.Node, error) {
	inSCC := make(map[int64]bool, len(scc))
	for _, n := range scc {
		inSCC[n.ID()] = true
	}
	indeg := make(map[int64]int, len(scc))
	for _, n := range scc {
		it := g.To(n.ID())
		for it.Next() {
			if inSCC[it.Node().ID()] {
				indeg[n.ID()]++
			}
		}
	}
	var ready []graph.Node
	for _, n := range scc {
		if indeg[n.ID()] == 0 {
			ready = append(ready, n)
		}
	}
	byID := make(map[int64]graph.Node, len(scc))
	for _, n := range scc {
		byID[n.ID()] = n
	}
	var order []graph.Node
	visited := make(map[int64]bool, len(scc))
	for len(order) < len(scc) {
		if len(ready) == 0 {
			// Build-only cycle: emit remaining members in a stable,
			// deterministic order rather than getting stuck.
			for _, n := range scc {
				if !visited[n.ID()] {
					ready = append(ready, n)
				}
			}
		}
		n := ready[0]
		ready = ready[1:]
		if visited[n.ID()] {
			continue
		}
		visited[n.ID()] = true
		order = append(order, n)
		it := g.From(n.ID())
		for it.Next() {
			to := it.Node().ID()
			if !inSCC[to] || visited[to] {
				continue
			}
			indeg[to]--
			if indeg[to] == 0 {
				ready = append(ready, byID[to])
			}
		}
	}
	return order, nil
}
