package compilecache

import (
	"sync"

	"github.com/pike-lsp/pikels/pkg/toposort"
)

// DependencyGraph keeps the forward ("dependencies") and reverse
// ("dependents") edge sets of the compilation dependency graph in lockstep.
// Paths are interned to small integers via toposort.SymbolTable, so both
// edge sets are int-keyed sets rather than path-string maps; Update is the
// single mutation that changes both sets together.
type DependencyGraph struct {
	mu    sync.Mutex
	table *toposort.SymbolTable

	// dependencies[p] = set of q such that p depends on q (forward edge p->q).
	dependencies map[int]map[int]struct{}
	// dependents[q] = set of p such that p depends on q (reverse edge q<-p).
	dependents map[int]map[int]struct{}
}

// NewDependencyGraph constructs an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		table:        toposort.NewSymbolTable(),
		dependencies: make(map[int]map[int]struct{}),
		dependents:   make(map[int]map[int]struct{}),
	}
}

// Update replaces the forward edge set of path with newDeps in a single
// critical section, updating the reverse edge set as the exact inverse.
// This is the only mutation path for the graph, by design: computing the
// delta against the old edge set and applying both directions together is
// what keeps the invariant "q in dependencies[p] iff p in dependents[q]"
// from ever observably breaking, even transiently.
func (g *DependencyGraph) Update(path string, newDeps []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.table.Intern(path)

	oldSet := g.dependencies[p]

	newSet := make(map[int]struct{}, len(newDeps))
	for _, d := range newDeps {
		newSet[g.table.Intern(d)] = struct{}{}
	}

	for q := range oldSet {
		if _, stillPresent := newSet[q]; !stillPresent {
			g.removeDependentLocked(q, p)
		}
	}

	for q := range newSet {
		if _, wasPresent := oldSet[q]; !wasPresent {
			g.addDependentLocked(q, p)
		}
	}

	if len(newSet) == 0 {
		delete(g.dependencies, p)
	} else {
		g.dependencies[p] = newSet
	}
}

func (g *DependencyGraph) addDependentLocked(q, p int) {
	set, ok := g.dependents[q]
	if !ok {
		set = make(map[int]struct{})
		g.dependents[q] = set
	}

	set[p] = struct{}{}
}

func (g *DependencyGraph) removeDependentLocked(q, p int) {
	set, ok := g.dependents[q]
	if !ok {
		return
	}

	delete(set, p)

	if len(set) == 0 {
		delete(g.dependents, q)
	}
}

// Invalidate removes path's forward edges entirely (used when path's cache
// entry itself is removed): every q it depended on loses path from its
// dependents set, and path's own dependency record is dropped.
func (g *DependencyGraph) Invalidate(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.table.Lookup(path)
	if !ok {
		return
	}

	for q := range g.dependencies[p] {
		g.removeDependentLocked(q, p)
	}

	delete(g.dependencies, p)
}

// TransitiveDependents returns every path (recursively) depending on
// changedPath, via a breadth-first traversal over the reverse edges,
// guarding against cycles with a visited set. changedPath itself is not
// included.
func (g *DependencyGraph) TransitiveDependents(changedPath string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	start, ok := g.table.Lookup(changedPath)
	if !ok {
		return nil
	}

	visited := map[int]struct{}{start: {}}
	queue := []int{start}

	var result []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for dependent := range g.dependents[cur] {
			if _, seen := visited[dependent]; seen {
				continue
			}

			visited[dependent] = struct{}{}
			result = append(result, g.table.Resolve(dependent))
			queue = append(queue, dependent)
		}
	}

	return result
}

// Clear drops every recorded edge. Used on subprocess restart and on
// nuclear eviction of the compilation cache.
func (g *DependencyGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dependencies = make(map[int]map[int]struct{})
	g.dependents = make(map[int]map[int]struct{})
}

// Dependencies returns the current forward edge set for path (for tests/diagnostics).
func (g *DependencyGraph) Dependencies(path string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.table.Lookup(path)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(g.dependencies[p]))
	for q := range g.dependencies[p] {
		out = append(out, g.table.Resolve(q))
	}

	return out
}

// Dependents returns the current reverse edge set for path (for tests/diagnostics).
func (g *DependencyGraph) Dependents(path string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.table.Lookup(path)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(g.dependents[p]))
	for q := range g.dependents[p] {
		out = append(out, g.table.Resolve(q))
	}

	return out
}
