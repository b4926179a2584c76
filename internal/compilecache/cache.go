// Package compilecache implements the analyzer-side compiled-program cache:
// a path-keyed cache of CompilationResult nested by CacheKey, a dependency
// graph for transitive invalidation, and per-compilation dependency capture.
//
// It is packaged standalone (rather than inlined into internal/fakeanalyzer)
// so that a real Go-native analyzer backend could embed it directly; the
// opaque compiled-program handle itself remains an external collaborator
// per the design's scope boundary.
package compilecache

import (
	"sync"

	"github.com/pike-lsp/pikels/pkg/alg/lru"
)

// DefaultMaxPaths is the hard cap on distinct cached paths before nuclear
// eviction, matching the design's "e.g., 500 distinct paths" example.
const DefaultMaxPaths = 500

// Result is the analyzer-side CompilationResult: an opaque compiled-program
// handle plus the diagnostics and dependency paths observed during
// compilation.
type Result struct {
	// Handle stands in for the opaque compiled-program pointer a real Pike
	// backend would hold (e.g. a cgo pointer into the interpreter's heap).
	Handle       any
	Diagnostics  []string
	Dependencies []string
}

// Stats mirrors the design's "hits, misses, evictions, current size,
// maximum size" cache statistics.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	MaxSize   int
}

type pathEntry struct {
	key    Key
	result Result
}

// Cache is the path -> {cacheKey -> CompilationResult} compiled-program
// cache with attached dependency graph and tracking-handler factory.
type Cache struct {
	mu       sync.Mutex
	byPath   *lru.Cache[string, pathEntry]
	maxPaths int

	evictions int64

	Graph *DependencyGraph
}

// New constructs a Cache with the given hard cap on distinct paths.
func New(maxPaths int) *Cache {
	if maxPaths <= 0 {
		maxPaths = DefaultMaxPaths
	}

	return &Cache{
		// The underlying LRU's own capacity is a backstop only: this Cache
		// always clears the whole map itself ("nuclear eviction") before
		// that backstop would ever fire, per the design's explicit
		// rejection of per-entry LRU bookkeeping for this cache.
		byPath:   lru.New[string, pathEntry](lru.WithMaxEntries[string, pathEntry](maxPaths + 1)),
		maxPaths: maxPaths,
		Graph:    NewDependencyGraph(),
	}
}

// Lookup implements the lookup protocol's steps 1-2: given a path and the
// cache key computed for its current state, return the cached result if
// the key matches what is stored for that path.
func (c *Cache) Lookup(path string, key Key) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byPath.Get(path)
	if !ok || entry.key != key {
		return Result{}, false
	}

	return entry.result, true
}

// Store records a freshly compiled result under path, evicting any stale
// entry for the same path with a different key (a new version supersedes
// the old one for that path, never both are retained) and updating the
// dependency graph from the captured dependencies in the same call.
func (c *Cache) Store(path string, key Key, result Result) {
	c.mu.Lock()

	if c.byPath.Len() >= c.maxPaths {
		if _, exists := c.byPath.Get(path); !exists {
			c.nuclearEvictLocked()
		}
	}

	c.byPath.Put(path, pathEntry{key: key, result: result})

	c.mu.Unlock()

	c.Graph.Update(path, result.Dependencies)
}

// nuclearEvictLocked clears the entire cache. Must be called with c.mu held.
func (c *Cache) nuclearEvictLocked() {
	c.byPath.Clear()
	c.evictions++
	// Every recorded edge must go too, or TransitiveDependents would walk
	// into entries whose compiled results no longer exist. The new path's
	// own edges are recorded afterwards by Store's Graph.Update call.
	c.Graph.Clear()
}

// Invalidate removes path's cache entry and its forward dependency edges.
// It does not touch paths that depend on path; callers that need the full
// transitive invalidation of scenario S4 should use InvalidateTransitive.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	c.byPath.Remove(path)
	c.mu.Unlock()

	c.Graph.Invalidate(path)
}

// InvalidateTransitive invalidates changedPath itself plus every path that
// transitively depends on it, per the dependency graph's reverse edges.
func (c *Cache) InvalidateTransitive(changedPath string) []string {
	affected := c.Graph.TransitiveDependents(changedPath)

	c.Invalidate(changedPath)

	for _, dep := range affected {
		c.Invalidate(dep)
	}

	return append([]string{changedPath}, affected...)
}

// Stats returns the current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.byPath.Stats()

	return Stats{
		Hits:      s.Hits,
		Misses:    s.Misses,
		Evictions: c.evictions,
		Size:      s.Entries,
		MaxSize:   c.maxPaths,
	}
}
