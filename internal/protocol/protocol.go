// Package protocol defines the wire types for the newline-delimited JSON-RPC
// dialect spoken between the mediator and the analyzer subprocess.
package protocol

import "encoding/json"

// Method names in the analyzer RPC surface.
const (
	MethodAnalyze               = "analyze"
	MethodParse                 = "parse"
	MethodTokenize               = "tokenize"
	MethodCompile                = "compile"
	MethodBatchParse             = "batch_parse"
	MethodIntrospect             = "introspect"
	MethodResolve                = "resolve"
	MethodGetInherited           = "get_inherited"
	MethodFindOccurrences        = "find_occurrences"
	MethodAnalyzeUninitialized   = "analyze_uninitialized"
	MethodGetCompletionContext   = "get_completion_context"
	MethodGetCacheStats          = "get_cache_stats"
	MethodPrepareRename          = "prepare_rename"
	MethodFindRenamePositions    = "find_rename_positions"
	MethodEvaluateConstant       = "evaluate_constant"
	MethodVersion                = "version"
)

// Include values accepted by an analyze call.
const (
	IncludeParse       = "parse"
	IncludeIntrospect  = "introspect"
	IncludeDiagnostics = "diagnostics"
	IncludeTokenize    = "tokenize"
)

// Application error codes, in the JSON-RPC -32000 reserved range.
const (
	ErrCodeParse        = -32000
	ErrCodeCompile      = -32001
	ErrCodeFileNotFound = -32002
	ErrCodeInternal     = -32099
)

// Request is a single-line JSON-RPC request sent to the analyzer.
type Request struct {
	Params json.RawMessage `json:"params,omitempty"`
	Method string          `json:"method"`
	ID     int64           `json:"id"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// Response is a single-line JSON-RPC response received from the analyzer.
// Exactly one of Result / Error is populated, per the JSON-RPC convention.
type Response struct {
	Error  *RPCError       `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	ID     int64           `json:"id"`
}

// Position is a zero-based line/character pair, matching LSP conventions.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Token is a single lexical token as returned by tokenize/analyze(tokenize=true).
type Token struct {
	Text      string `json:"text"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
}

// Diagnostic is an analyzer-reported problem, independent of its eventual
// LSP rendering (internal/orchestrator maps this to the editor-facing shape).
type Diagnostic struct {
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
	Code     string `json:"code,omitempty"`
	Severity int    `json:"severity"`
	Line     int    `json:"line"`
	Character int   `json:"character"`
	EndLine     int `json:"endLine"`
	EndCharacter int `json:"endCharacter"`
	Deprecated bool `json:"deprecated,omitempty"`
}

// SymbolKind enumerates the Pike symbol kinds the analyzer can report.
type SymbolKind string

// Known symbol kinds. Unknown values decode fine as plain strings; callers
// should treat an unrecognized kind as SymbolKindUnknown rather than failing.
const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindVariable  SymbolKind = "variable"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindConstant  SymbolKind = "constant"
	SymbolKindInherit   SymbolKind = "inherit"
	SymbolKindModule    SymbolKind = "module"
	SymbolKindUnknown   SymbolKind = "unknown"
)

// Symbol is a declared identifier, possibly with children (nested classes).
type Symbol struct {
	Name       string     `json:"name"`
	Kind       SymbolKind `json:"kind"`
	Type       string     `json:"type,omitempty"`
	Line       int        `json:"line"`
	Character  int        `json:"character"`
	HasPos     bool       `json:"hasPosition"`
	Modifiers  []string   `json:"modifiers,omitempty"`
	Deprecated bool       `json:"deprecated,omitempty"`
	Children   []Symbol   `json:"children,omitempty"`
}

// InheritEdge records a single inheritance relationship declared in a document.
type InheritEdge struct {
	Child  string `json:"child"`
	Parent string `json:"parent"`
	Kind   string `json:"kind"`
}

// AnalyzeParams is the params object for the unified `analyze` method.
type AnalyzeParams struct {
	Code            string   `json:"code"`
	Filename        string   `json:"filename"`
	Include         []string `json:"include"`
	DocumentVersion int      `json:"documentVersion,omitempty"`
}

// PerfBlock is the `_perf` field of an analyze response.
type PerfBlock struct {
	CacheKey string `json:"cache_key"`
	CacheHit bool   `json:"cache_hit"`
}

// ParseResult is the payload of the `parse` operation, standalone or nested
// under analyze's `result.parse`.
type ParseResult struct {
	Symbols     []Symbol     `json:"symbols"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// IntrospectResult is the payload of the `introspect` operation.
type IntrospectResult struct {
	Symbols     []Symbol      `json:"symbols"`
	Functions   []Symbol      `json:"functions"`
	Variables   []Symbol      `json:"variables"`
	Classes     []Symbol      `json:"classes"`
	Inherits    []InheritEdge `json:"inherits"`
	Diagnostics []Diagnostic  `json:"diagnostics"`
}

// TokenizeResult is the payload of the `tokenize` operation.
type TokenizeResult struct {
	Tokens []Token `json:"tokens"`
}

// DiagnosticsResult is the payload of the `diagnostics` member of analyze's
// include set (distinct from the per-operation diagnostics embedded in
// parse/introspect results).
type DiagnosticsResult struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// AnalyzeResultSet holds the per-operation results of a successful `include`
// entry. Every field is a pointer so a response that omits an operation
// (because it failed, or was not requested) decodes to nil rather than a
// zero value that could be mistaken for "ran and found nothing".
type AnalyzeResultSet struct {
	Parse       *ParseResult       `json:"parse,omitempty"`
	Introspect  *IntrospectResult  `json:"introspect,omitempty"`
	Diagnostics *DiagnosticsResult `json:"diagnostics,omitempty"`
	Tokenize    *TokenizeResult    `json:"tokenize,omitempty"`
}

// AnalyzeFailure records why a single requested operation did not produce a result.
type AnalyzeFailure struct {
	Message string `json:"message"`
}

// AnalyzeResponse is the decoded `result` field of an `analyze` call.
type AnalyzeResponse struct {
	Failures map[string]AnalyzeFailure `json:"failures,omitempty"`
	Result   AnalyzeResultSet          `json:"result"`
	Perf     PerfBlock                 `json:"_perf"`
}

// CacheStats is the payload of `get_cache_stats`.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	MaxFiles  int   `json:"max_files"`
}

// CompletionContext is the payload of `get_completion_context`.
type CompletionContext struct {
	ContextKind string `json:"contextKind"`
	ObjectName  string `json:"objectName,omitempty"`
	Prefix      string `json:"prefix"`
	Operator    string `json:"operator,omitempty"`
}

// ResolveResult is the payload of `resolve`.
type ResolveResult struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// VersionResult is the payload of the internal `version` probe the Bridge
// issues once in the background right after start().
type VersionResult struct {
	Version string `json:"version"`
}
