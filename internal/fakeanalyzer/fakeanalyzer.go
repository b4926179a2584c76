// Package fakeanalyzer implements a minimal, protocol-complete stand-in for
// the Pike analyzer subprocess. It never asks a real Pike compiler to parse
// anything — symbol and diagnostic extraction is a handful of regexes, just
// enough to drive every method in the wire protocol end to end. It backs
// integration tests that want a real subprocess on the other end of a
// Transport rather than an in-process double, and cmd/pikefakeanalyzer
// exposes it as a runnable binary for manual poking at the LSP server
// without a Pike toolchain installed.
package fakeanalyzer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pike-lsp/pikels/internal/doccache"
	"github.com/pike-lsp/pikels/internal/protocol"
)

// Version is reported in response to the version probe.
const Version = "fakeanalyzer-1.0"

var (
	classRe      = regexp.MustCompile(`(?m)^(\s*)(?:protected\s+|private\s+|public\s+)?class\s+([A-Za-z_]\w*)`)
	funcRe       = regexp.MustCompile(`(?m)^(\s*)(?:protected\s+|private\s+|public\s+|static\s+)*[A-Za-z_][\w.]*\s+([A-Za-z_]\w*)\s*\(`)
	varRe        = regexp.MustCompile(`(?m)^(\s*)(?:protected\s+|private\s+|public\s+|static\s+)*(?:int|string|float|mapping|array|object|mixed|multiset|program)\s+([A-Za-z_]\w*)\s*[;=]`)
	constRe      = regexp.MustCompile(`(?m)^(\s*)constant\s+([A-Za-z_]\w*)\s*=`)
	inheritRe    = regexp.MustCompile(`(?m)^(\s*)inherit\s+([A-Za-z_][\w.]*)\s*;`)
	deprecatedRe = regexp.MustCompile(`(?i)deprecated`)
	todoRe       = regexp.MustCompile(`(?i)//\s*TODO\b`)
	wordRe       = regexp.MustCompile(`[A-Za-z_]\w*`)
)

// Analyzer is the fake analyzer's state: a request counter for cache-stats
// reporting and a content-keyed seen-set standing in for the real analyzer's
// compile cache.
type Analyzer struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	hits   int64
	misses int64
}

// New constructs an Analyzer.
func New() *Analyzer {
	return &Analyzer{seen: make(map[string]struct{})}
}

// Serve reads newline-delimited JSON-RPC requests from r and writes
// responses to w, one line per message, until r is exhausted. This is the
// same framing internal/transport speaks to a real subprocess.
func (a *Analyzer) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var writeMu sync.Mutex

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)

		resp := a.handle(line)

		out, err := json.Marshal(resp)
		if err != nil {
			continue
		}

		out = append(out, '\n')

		writeMu.Lock()
		_, werr := w.Write(out)
		writeMu.Unlock()

		if werr != nil {
			return werr
		}
	}

	return scanner.Err()
}

func (a *Analyzer) handle(line []byte) protocol.Response {
	var req protocol.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return protocol.Response{Error: &protocol.RPCError{Code: protocol.ErrCodeInternal, Message: "malformed request: " + err.Error()}}
	}

	result, err := a.dispatch(req.Method, req.Params)
	if err != nil {
		return protocol.Response{ID: req.ID, Error: err}
	}

	return protocol.Response{ID: req.ID, Result: result}
}

func (a *Analyzer) dispatch(method string, params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	switch method {
	case protocol.MethodVersion:
		return marshal(protocol.VersionResult{Version: Version})

	case protocol.MethodAnalyze:
		return a.handleAnalyze(params)

	case protocol.MethodParse:
		return a.handleParse(params)

	case protocol.MethodTokenize:
		return a.handleTokenize(params)

	case protocol.MethodCompile:
		return a.handleCompile(params)

	case protocol.MethodBatchParse:
		return a.handleBatchParse(params)

	case protocol.MethodIntrospect:
		return a.handleIntrospect(params)

	case protocol.MethodResolve:
		return a.handleResolve(params)

	case protocol.MethodGetInherited:
		return a.handleGetInherited(params)

	case protocol.MethodFindOccurrences:
		return a.handleFindOccurrences(params)

	case protocol.MethodAnalyzeUninitialized:
		return a.handleAnalyzeUninitialized(params)

	case protocol.MethodGetCompletionContext:
		return a.handleGetCompletionContext(params)

	case protocol.MethodGetCacheStats:
		return marshal(a.cacheStats())

	case protocol.MethodPrepareRename:
		return a.handlePrepareRename(params)

	case protocol.MethodFindRenamePositions:
		return a.handleFindRenamePositions(params)

	case protocol.MethodEvaluateConstant:
		return a.handleEvaluateConstant(params)

	default:
		return nil, &protocol.RPCError{Code: protocol.ErrCodeInternal, Message: "unknown method: " + method}
	}
}

func marshal(v any) (json.RawMessage, *protocol.RPCError) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &protocol.RPCError{Code: protocol.ErrCodeInternal, Message: err.Error()}
	}

	return raw, nil
}

// track records whether code was already seen, for cache-stats reporting,
// mirroring the real analyzer's notion of a compile-result cache.
func (a *Analyzer) track(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := fmt.Sprintf("%d:%x", len(code), code)
	if _, ok := a.seen[key]; ok {
		a.hits++
	} else {
		a.misses++
		a.seen[key] = struct{}{}
	}
}

func (a *Analyzer) cacheStats() protocol.CacheStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return protocol.CacheStats{
		Hits:     a.hits,
		Misses:   a.misses,
		Size:     len(a.seen),
		MaxFiles: 512,
	}
}

func (a *Analyzer) handleAnalyze(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p protocol.AnalyzeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	a.track(p.Code)

	symbols, diags, inherits := extract(p.Code)
	tokens := tokenize(p.Code)

	var result protocol.AnalyzeResultSet

	for _, inc := range p.Include {
		switch inc {
		case protocol.IncludeParse:
			result.Parse = &protocol.ParseResult{Symbols: symbols, Diagnostics: diags}
		case protocol.IncludeIntrospect:
			result.Introspect = &protocol.IntrospectResult{
				Symbols:  symbols,
				Inherits: inherits,
			}
		case protocol.IncludeDiagnostics:
			result.Diagnostics = &protocol.DiagnosticsResult{Diagnostics: uninitializedDiagnostics(p.Code)}
		case protocol.IncludeTokenize:
			result.Tokenize = &protocol.TokenizeResult{Tokens: tokens}
		}
	}

	return marshal(protocol.AnalyzeResponse{
		Result: result,
		Perf:   protocol.PerfBlock{CacheKey: p.Filename, CacheHit: false},
	})
}

func (a *Analyzer) handleParse(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code     string `json:"code"`
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	a.track(p.Code)

	symbols, diags, _ := extract(p.Code)

	return marshal(protocol.ParseResult{Symbols: symbols, Diagnostics: diags})
}

func (a *Analyzer) handleTokenize(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	return marshal(protocol.TokenizeResult{Tokens: tokenize(p.Code)})
}

// handleCompile stands in for a real compile pass: it reports success iff
// braces balance, with a single diagnostic on failure.
func (a *Analyzer) handleCompile(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code     string `json:"code"`
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	out := struct {
		Success     bool                  `json:"success"`
		Diagnostics []protocol.Diagnostic `json:"diagnostics"`
	}{Success: true}

	if strings.Count(p.Code, "{") != strings.Count(p.Code, "}") {
		out.Success = false
		out.Diagnostics = []protocol.Diagnostic{{Message: "unbalanced braces", Severity: 1}}
	}

	return marshal(out)
}

func (a *Analyzer) handleBatchParse(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Files []struct {
			Code     string `json:"code"`
			Filename string `json:"filename"`
		} `json:"files"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	type fileResult struct {
		Filename string               `json:"filename"`
		Parse    protocol.ParseResult `json:"parse"`
	}

	out := make([]fileResult, 0, len(p.Files))

	for _, f := range p.Files {
		a.track(f.Code)
		symbols, diags, _ := extract(f.Code)
		out = append(out, fileResult{Filename: f.Filename, Parse: protocol.ParseResult{Symbols: symbols, Diagnostics: diags}})
	}

	return marshal(out)
}

func (a *Analyzer) handleIntrospect(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	symbols, diags, inherits := extract(p.Code)

	return marshal(protocol.IntrospectResult{Symbols: symbols, Inherits: inherits, Diagnostics: diags})
}

func (a *Analyzer) handleResolve(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Module      string `json:"module"`
		CurrentFile string `json:"currentFile"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	if p.Module == "" {
		return marshal(protocol.ResolveResult{Exists: false})
	}

	return marshal(protocol.ResolveResult{Path: strings.ReplaceAll(p.Module, ".", "/") + ".pike", Exists: true})
}

func (a *Analyzer) handleGetInherited(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	_, _, inherits := extract(p.Code)

	out := struct {
		Inherits []protocol.InheritEdge `json:"inherits"`
	}{Inherits: inherits}

	return marshal(out)
}

func (a *Analyzer) handleFindOccurrences(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	out := struct {
		Occurrences []protocol.Token `json:"occurrences"`
	}{Occurrences: tokenize(p.Code)}

	return marshal(out)
}

func (a *Analyzer) handleAnalyzeUninitialized(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	return marshal(protocol.DiagnosticsResult{Diagnostics: uninitializedDiagnostics(p.Code)})
}

func (a *Analyzer) handleGetCompletionContext(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code      string `json:"code"`
		Line      int    `json:"line"`
		Character int    `json:"character"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	lines := strings.Split(p.Code, "\n")
	if p.Line < 0 || p.Line >= len(lines) {
		return marshal(protocol.CompletionContext{ContextKind: "unknown"})
	}

	lineText := lines[p.Line]
	character := p.Character
	if character > len(lineText) {
		character = len(lineText)
	}

	before := lineText[:character]
	ctx := protocol.CompletionContext{Prefix: doccache.WordAt(p.Code, p.Line, p.Character)}

	switch {
	case strings.HasSuffix(before, "->"):
		ctx.ContextKind = "member"
		ctx.Operator = "->"
		ctx.ObjectName = strings.TrimSpace(strings.TrimSuffix(before, "->"))
	case strings.HasSuffix(before, "."):
		ctx.ContextKind = "member"
		ctx.Operator = "."
		ctx.ObjectName = strings.TrimSpace(strings.TrimSuffix(before, "."))
	default:
		ctx.ContextKind = "identifier"
	}

	return marshal(ctx)
}

func (a *Analyzer) handlePrepareRename(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code      string `json:"code"`
		Line      int    `json:"line"`
		Character int    `json:"character"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	word := doccache.WordAt(p.Code, p.Line, p.Character)
	if word == "" {
		return nil, &protocol.RPCError{Code: protocol.ErrCodeInternal, Message: "no renameable symbol at position"}
	}

	out := struct {
		Symbol string `json:"symbol"`
	}{Symbol: word}

	return marshal(out)
}

func (a *Analyzer) handleFindRenamePositions(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Code       string `json:"code"`
		SymbolName string `json:"symbolName"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	out := struct {
		Positions []protocol.Position `json:"positions"`
	}{Positions: findWord(p.Code, p.SymbolName)}

	return marshal(out)
}

func (a *Analyzer) handleEvaluateConstant(params json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var p struct {
		Expr string `json:"expr"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}

	out := struct {
		Value json.Number `json:"value,omitempty"`
		Ok    bool         `json:"ok"`
	}{}

	if n, err := strconv.Atoi(strings.TrimSpace(p.Expr)); err == nil {
		out.Value = json.Number(strconv.Itoa(n))
		out.Ok = true
	}

	return marshal(out)
}

func badParams(err error) *protocol.RPCError {
	return &protocol.RPCError{Code: protocol.ErrCodeInternal, Message: "bad params: " + err.Error()}
}

// extract scans code line by line for class/function/variable/constant
// declarations and inherit statements. It is a fake, not a parser: multiline
// declarations and nested scoping are not tracked, which is fine for a test
// double whose job is to exercise the wire protocol, not validate Pike.
func extract(code string) ([]protocol.Symbol, []protocol.Diagnostic, []protocol.InheritEdge) {
	lines := strings.Split(code, "\n")

	var symbols []protocol.Symbol
	var diags []protocol.Diagnostic
	var inherits []protocol.InheritEdge

	var currentClass string

	for i, line := range lines {
		if m := classRe.FindStringSubmatchIndex(line); m != nil {
			name := line[m[4]:m[5]]
			currentClass = name
			symbols = append(symbols, protocol.Symbol{
				Name: name, Kind: protocol.SymbolKindClass, Line: i, Character: m[4], HasPos: true,
				Deprecated: deprecatedRe.MatchString(line),
			})

			continue
		}

		if m := inheritRe.FindStringSubmatchIndex(line); m != nil {
			parent := line[m[4]:m[5]]
			child := currentClass

			inherits = append(inherits, protocol.InheritEdge{Child: child, Parent: parent, Kind: "inherit"})

			continue
		}

		if m := constRe.FindStringSubmatchIndex(line); m != nil {
			name := line[m[4]:m[5]]
			symbols = append(symbols, protocol.Symbol{Name: name, Kind: protocol.SymbolKindConstant, Line: i, Character: m[4], HasPos: true})

			continue
		}

		if m := funcRe.FindStringSubmatchIndex(line); m != nil {
			name := line[m[4]:m[5]]
			symbols = append(symbols, protocol.Symbol{
				Name: name, Kind: protocol.SymbolKindFunction, Line: i, Character: m[4], HasPos: true,
				Deprecated: deprecatedRe.MatchString(line),
			})

			continue
		}

		if m := varRe.FindStringSubmatchIndex(line); m != nil {
			name := line[m[4]:m[5]]
			symbols = append(symbols, protocol.Symbol{Name: name, Kind: protocol.SymbolKindVariable, Line: i, Character: m[4], HasPos: true})

			continue
		}

		if todoRe.MatchString(line) {
			diags = append(diags, protocol.Diagnostic{Message: "TODO marker", Severity: 4, Line: i})
		}
	}

	if strings.Count(code, "{") != strings.Count(code, "}") {
		diags = append(diags, protocol.Diagnostic{Message: "unbalanced braces", Severity: 1})
	}

	return symbols, diags, inherits
}

// uninitializedDiagnostics flags "int x;" style declarations with no
// assignment on the same line, the same heuristic a real analyzer's
// uninitialized-variable pass would report, one level simpler.
func uninitializedDiagnostics(code string) []protocol.Diagnostic {
	var diags []protocol.Diagnostic

	for i, line := range lines(code) {
		m := varRe.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}

		if strings.Contains(line[m[5]:], "=") {
			continue
		}

		name := line[m[4]:m[5]]
		diags = append(diags, protocol.Diagnostic{
			Message: fmt.Sprintf("%s declared without an initializer", name), Severity: 3, Line: i, Character: m[4],
		})
	}

	return diags
}

func tokenize(code string) []protocol.Token {
	var tokens []protocol.Token

	for i, line := range lines(code) {
		for _, loc := range wordRe.FindAllStringIndex(line, -1) {
			tokens = append(tokens, protocol.Token{Text: line[loc[0]:loc[1]], Line: i, Character: loc[0]})
		}
	}

	return tokens
}

func findWord(code, word string) []protocol.Position {
	if word == "" {
		return nil
	}

	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)

	var positions []protocol.Position

	for i, line := range lines(code) {
		for _, loc := range re.FindAllStringIndex(line, -1) {
			positions = append(positions, protocol.Position{Line: i, Character: loc[0]})
		}
	}

	return positions
}

func lines(code string) []string {
	return strings.Split(code, "\n")
}
