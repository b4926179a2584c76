package fakeanalyzer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pike-lsp/pikels/internal/protocol"
)

func call(t *testing.T, a *Analyzer, method string, params any) protocol.Response {
	t.Helper()

	raw, err := json.Marshal(params)
	require.NoError(t, err)

	req := protocol.Request{ID: 1, Method: method, Params: raw}
	line, err := json.Marshal(req)
	require.NoError(t, err)
	line = append(line, '\n')

	var out bytes.Buffer
	require.NoError(t, a.Serve(bytes.NewReader(line), &out))

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))

	return resp
}

func TestVersionReportsFakeVersion(t *testing.T) {
	a := New()

	resp := call(t, a, protocol.MethodVersion, nil)
	require.Nil(t, resp.Error)

	var out protocol.VersionResult
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	assert.Equal(t, Version, out.Version)
}

func TestAnalyzeExtractsSymbolsPerInclude(t *testing.T) {
	a := New()

	code := "class Account {\n  int balance;\n  void transfer() {\n  }\n}\n"

	resp := call(t, a, protocol.MethodAnalyze, protocol.AnalyzeParams{
		Code: code, Filename: "a.pike",
		Include: []string{protocol.IncludeParse, protocol.IncludeTokenize},
	})
	require.Nil(t, resp.Error)

	var out protocol.AnalyzeResponse
	require.NoError(t, json.Unmarshal(resp.Result, &out))

	require.NotNil(t, out.Result.Parse)
	require.Nil(t, out.Result.Introspect) // not requested

	var names []string
	for _, s := range out.Result.Parse.Symbols {
		names = append(names, s.Name)
	}

	assert.Contains(t, names, "Account")
	assert.Contains(t, names, "balance")
	assert.Contains(t, names, "transfer")

	require.NotNil(t, out.Result.Tokenize)
	assert.NotEmpty(t, out.Result.Tokenize.Tokens)
}

func TestAnalyzeReportsInheritEdges(t *testing.T) {
	a := New()

	code := "class Savings {\n  inherit Account;\n}\n"

	resp := call(t, a, protocol.MethodAnalyze, protocol.AnalyzeParams{
		Code: code, Include: []string{protocol.IncludeIntrospect},
	})
	require.Nil(t, resp.Error)

	var out protocol.AnalyzeResponse
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	require.NotNil(t, out.Result.Introspect)
	require.Len(t, out.Result.Introspect.Inherits, 1)
	assert.Equal(t, "Savings", out.Result.Introspect.Inherits[0].Child)
	assert.Equal(t, "Account", out.Result.Introspect.Inherits[0].Parent)
}

func TestFindRenamePositionsFindsEveryOccurrence(t *testing.T) {
	a := New()

	resp := call(t, a, protocol.MethodFindRenamePositions, map[string]string{
		"code": "transfer(a, b);\ntransfer(c, d);\n", "symbolName": "transfer",
	})
	require.Nil(t, resp.Error)

	var out struct {
		Positions []protocol.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	require.Len(t, out.Positions, 2)
	assert.Equal(t, 0, out.Positions[0].Line)
	assert.Equal(t, 1, out.Positions[1].Line)
}

func TestPrepareRenameRejectsPositionWithNoSymbol(t *testing.T) {
	a := New()

	resp := call(t, a, protocol.MethodPrepareRename, map[string]any{
		"code": "   \n", "line": 0, "character": 1,
	})

	require.NotNil(t, resp.Error)
}

func TestCacheStatsCountsHitsAndMisses(t *testing.T) {
	a := New()

	code := "int x;\n"

	call(t, a, protocol.MethodParse, map[string]string{"code": code})
	resp := call(t, a, protocol.MethodParse, map[string]string{"code": code})
	require.Nil(t, resp.Error)

	statsResp := call(t, a, protocol.MethodGetCacheStats, nil)
	var stats protocol.CacheStats
	require.NoError(t, json.Unmarshal(statsResp.Result, &stats))

	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestUnknownMethodReturnsError(t *testing.T) {
	a := New()

	resp := call(t, a, "not_a_real_method", nil)
	require.NotNil(t, resp.Error)
	assert.True(t, strings.Contains(resp.Error.Message, "unknown method"))
}

func TestCompileFlagsUnbalancedBraces(t *testing.T) {
	a := New()

	resp := call(t, a, protocol.MethodCompile, map[string]string{"code": "void f() {\n", "filename": "a.pike"})
	require.Nil(t, resp.Error)

	var out struct {
		Success     bool                  `json:"success"`
		Diagnostics []protocol.Diagnostic `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	assert.False(t, out.Success)
	require.Len(t, out.Diagnostics, 1)
}
