// Package doccache holds the mediator's analyzed snapshots of open
// documents: the single source of truth feature handlers (hover, rename,
// references) read from rather than re-invoking the analyzer subprocess.
package doccache

import (
	"context"
	"sync"

	"github.com/pike-lsp/pikels/internal/protocol"
)

// Entry is the mediator's analysis snapshot for a single document, matching
// the data model's DocumentCacheEntry.
type Entry struct {
	Version         int
	Symbols         []protocol.Symbol
	Diagnostics     []protocol.Diagnostic
	SymbolPositions map[string][]protocol.Position
	SymbolNames     map[string]struct{}
	ContentHash     string
	LineHashes      []string
	Introspection   *protocol.IntrospectResult
	Inherits        []protocol.InheritEdge
}

type pending struct {
	done chan struct{}
	once sync.Once
}

func newPending() *pending {
	return &pending{done: make(chan struct{})}
}

func (p *pending) resolve() {
	p.once.Do(func() { close(p.done) })
}

// Cache is the mediator-side, per-URI document cache. It is a process-wide
// singleton: AnalyzeOrchestrator is the only writer, feature handlers are
// readers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	waiters map[string]*pending
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		waiters: make(map[string]*pending),
	}
}

// Get returns the current snapshot for uri, if any.
func (c *Cache) Get(uri string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[uri]

	return e, ok
}

// Set replaces uri's snapshot atomically and wakes any waiters blocked in
// WaitFor — a feature handler that started waiting before validation
// finished sees the fresh entry rather than a stale one.
func (c *Cache) Set(uri string, entry *Entry) {
	c.mu.Lock()
	c.entries[uri] = entry

	w, hasWaiter := c.waiters[uri]
	if hasWaiter {
		delete(c.waiters, uri)
	}

	c.mu.Unlock()

	if hasWaiter {
		w.resolve()
	}
}

// Delete removes uri's snapshot, e.g. on didClose.
func (c *Cache) Delete(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, uri)
}

// SetPending registers that a validation for uri is in flight. Callers of
// WaitFor block until the matching Set (or a Set that supersedes this one)
// arrives.
func (c *Cache) SetPending(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.waiters[uri]; !ok {
		c.waiters[uri] = newPending()
	}
}

// WaitFor blocks until uri's in-flight validation publishes a new snapshot,
// the context is canceled, or there was never a pending validation (in
// which case it returns immediately with whatever Get would return). This
// lets a feature handler prefer a fresh-but-not-yet-ready snapshot over a
// stale one.
func (c *Cache) WaitFor(ctx context.Context, uri string) (*Entry, bool) {
	c.mu.RLock()
	w, hasWaiter := c.waiters[uri]
	c.mu.RUnlock()

	if hasWaiter {
		select {
		case <-w.done:
		case <-ctx.Done():
		}
	}

	return c.Get(uri)
}
