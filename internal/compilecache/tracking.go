package compilecache

import "strings"

// TrackingHandler records every inherit/import/include path resolved during
// a single compilation, so Store can hand the result straight to the
// dependency graph. A fresh TrackingHandler is built per compilation call —
// never pooled or reused — so dependencies recorded by one compilation can
// never leak into another's result.
type TrackingHandler struct {
	projectRoot string
	deps        []string
	seen        map[string]struct{}
}

// NewTrackingHandler constructs a handler scoped to a single compilation.
// projectRoot bounds which resolved paths are worth tracking: anything
// outside the project (the analyzer runtime's own library paths, say)
// would only pollute the dependency graph with nodes nothing will ever
// invalidate.
func NewTrackingHandler(projectRoot string) *TrackingHandler {
	return &TrackingHandler{
		projectRoot: projectRoot,
		seen:        make(map[string]struct{}),
	}
}

// ResolveInherit records a path resolved by an `inherit` directive.
func (h *TrackingHandler) ResolveInherit(path string) {
	h.record(path)
}

// ResolveImport records a path resolved by an `import` directive.
func (h *TrackingHandler) ResolveImport(path string) {
	h.record(path)
}

// ResolveInclude records a path resolved by a preprocessor `#include`.
func (h *TrackingHandler) ResolveInclude(path string) {
	h.record(path)
}

func (h *TrackingHandler) record(path string) {
	if h.projectRoot != "" && !strings.HasPrefix(path, h.projectRoot) {
		return
	}

	if _, ok := h.seen[path]; ok {
		return
	}

	h.seen[path] = struct{}{}
	h.deps = append(h.deps, path)
}

// Dependencies returns every distinct in-project path recorded so far, in
// first-resolved order.
func (h *TrackingHandler) Dependencies() []string {
	return h.deps
}
