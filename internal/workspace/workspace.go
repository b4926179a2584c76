// Package workspace enumerates and tracks source files under the editor's
// workspace folders, feeding identifier lookups for cross-file features
// (workspace symbols, find-references) that a single open document cannot
// answer alone.
package workspace

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultExtensions is the extension whitelist applied when Options leaves
// Extensions empty.
var DefaultExtensions = []string{".pike", ".pmod"}

// defaultExcludeNames are directory names never descended into, regardless
// of configured exclude patterns.
var defaultExcludeNames = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"dist":         {},
	"build":        {},
}

// Options configures a scan.
type Options struct {
	// MaxDepth bounds recursion below a root; 0 means unlimited.
	MaxDepth int
	// Extensions is the source-file extension whitelist, each including its
	// leading dot. Empty means DefaultExtensions.
	Extensions []string
	// ExcludeNames lists additional directory base names to skip, beyond
	// the built-in .git/node_modules/dist/build set.
	ExcludeNames []string
}

func (o Options) extensions() []string {
	if len(o.Extensions) > 0 {
		return o.Extensions
	}

	return DefaultExtensions
}

func (o Options) skipDir(name string) bool {
	if _, ok := defaultExcludeNames[name]; ok {
		return true
	}

	for _, ex := range o.ExcludeNames {
		if ex == name {
			return true
		}
	}

	return false
}

// FileInfo is the record tracked per enumerated source file.
type FileInfo struct {
	URI          string
	Path         string
	LastModified time.Time
	// Symbols is the cached bare-name set contributed by the last analysis
	// of this file, if any. A nil set means "not yet analyzed": searchSymbol
	// conservatively treats that as a possible match.
	Symbols map[string]struct{}
}

// Scanner is the WorkspaceScanner: it owns the set of known source files
// under the configured roots and answers cross-file symbol lookups.
type Scanner struct {
	opts   Options
	logger *slog.Logger

	mu    sync.RWMutex
	roots map[string]struct{}
	files map[string]*FileInfo // keyed by URI
}

// New constructs an empty Scanner. Call Initialize to populate it from a
// set of workspace roots.
func New(opts Options, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		opts:   opts,
		logger: logger,
		roots:  make(map[string]struct{}),
		files:  make(map[string]*FileInfo),
	}
}

// Initialize performs a recursive scan of every root and replaces the
// entire known-file set with what it finds.
func (s *Scanner) Initialize(roots []string) {
	s.mu.Lock()
	s.roots = make(map[string]struct{}, len(roots))
	s.files = make(map[string]*FileInfo)
	s.mu.Unlock()

	for _, root := range roots {
		s.AddFolder(root)
	}
}

// AddFolder scans a single root recursively and merges what it finds into
// the known-file set, without disturbing files already tracked from other
// roots.
func (s *Scanner) AddFolder(root string) {
	s.mu.Lock()
	s.roots[root] = struct{}{}
	s.mu.Unlock()

	found := s.scan(root)

	s.mu.Lock()
	for uri, fi := range found {
		s.files[uri] = fi
	}
	s.mu.Unlock()
}

// RemoveFolder drops every tracked file whose path lies under root, and
// forgets root itself.
func (s *Scanner) RemoveFolder(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.roots, root)

	for uri, fi := range s.files {
		if isUnder(root, fi.Path) {
			delete(s.files, uri)
		}
	}
}

// InvalidateFile drops any cached symbol information for uri, so a future
// SearchSymbol conservatively includes it again until it is reanalyzed. The
// file entry itself (path, lastModified) is left in place.
func (s *Scanner) InvalidateFile(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fi, ok := s.files[uri]; ok {
		fi.Symbols = nil
	}
}

// SetSymbols records the bare-name set last contributed by uri's analysis,
// for use by SearchSymbol. It is a no-op if uri is not a tracked file (the
// document may be open but outside any workspace root).
func (s *Scanner) SetSymbols(uri string, names map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fi, ok := s.files[uri]; ok {
		fi.Symbols = names
	}
}

// SearchSymbol returns the URIs of every tracked file whose cached symbol
// set contains name, plus every file that has no cached symbol data at all
// (it may contain name; a deeper per-file search is needed to be sure).
func (s *Scanner) SearchSymbol(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.files))

	for uri, fi := range s.files {
		if fi.Symbols == nil {
			out = append(out, uri)

			continue
		}

		if _, ok := fi.Symbols[name]; ok {
			out = append(out, uri)
		}
	}

	sort.Strings(out)

	return out
}

// Files returns a snapshot of every tracked file, sorted by URI.
func (s *Scanner) Files() []FileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FileInfo, 0, len(s.files))
	for _, fi := range s.files {
		out = append(out, *fi)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })

	return out
}

// Len returns the number of tracked files.
func (s *Scanner) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.files)
}

func (s *Scanner) scan(root string) map[string]*FileInfo {
	found := make(map[string]*FileInfo)

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		skip, walkErr := s.shouldSkip(root, path, entry, err)
		if walkErr != nil {
			return walkErr
		}

		if skip {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			s.logger.Debug("workspace scan: stat failed", "path", path, "err", err)

			return nil
		}

		uri := pathToURI(path)
		found[uri] = &FileInfo{URI: uri, Path: path, LastModified: info.ModTime()}

		return nil
	})
	if walkErr != nil {
		s.logger.Debug("workspace scan: walk aborted", "root", root, "err", walkErr)
	}

	return found
}

// shouldSkip decides whether a walk entry should be skipped, honoring
// MaxDepth, the exclude-name set, and the extension whitelist. Permission
// and not-exist errors on individual entries are logged and skipped rather
// than aborting the whole walk; any other error propagates.
func (s *Scanner) shouldSkip(root, path string, entry fs.DirEntry, walkErr error) (bool, error) {
	if walkErr != nil {
		if errors.Is(walkErr, fs.ErrPermission) || errors.Is(walkErr, fs.ErrNotExist) {
			s.logger.Debug("workspace scan: skipping entry", "path", path, "err", walkErr)

			if entry != nil && entry.IsDir() {
				return true, filepath.SkipDir
			}

			return true, nil
		}

		return false, walkErr
	}

	if entry == nil {
		return true, nil
	}

	if entry.IsDir() {
		if path != root && s.opts.skipDir(entry.Name()) {
			return true, filepath.SkipDir
		}

		if s.opts.MaxDepth > 0 && depthBelow(root, path) > s.opts.MaxDepth {
			return true, filepath.SkipDir
		}

		return true, nil
	}

	if !hasExtension(path, s.opts.extensions()) {
		return true, nil
	}

	return false, nil
}

func depthBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}

	if rel == "." {
		return 0
	}

	return len(strings.Split(filepath.ToSlash(rel), "/"))
}

func hasExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	for _, e := range extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}

	return false
}

func isUnder(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// pathToURI renders a filesystem path as a file:// URI. It does not attempt
// full RFC 3986 percent-encoding of exotic characters; workspace paths are
// not adversarial input.
func pathToURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	slashed := filepath.ToSlash(abs)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}

	return "file://" + slashed
}
