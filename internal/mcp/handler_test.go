package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/aggregator"
	"github.com/cliffyan/go-metasearch/internal/config"
	"github.com/cliffyan/go-metasearch/internal/engine"
)

type fakeSearcher struct {
	requests []aggregator.Request
	res      *engine.SearchResults
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, req aggregator.Request) (*engine.SearchResults, error) {
	f.requests = append(f.requests, req)
	return f.res, f.err
}

func newHandler(s Searcher) *Handler {
	cfg := config.Default()
	cfg.Search.UpstreamSearchEngines = map[string]bool{"bing": true, "brave": true, "qwant": false}
	return NewHandler(cfg, s, zap.NewNop())
}

func call(t *testing.T, h *Handler, id any, method, params string) JSONRPCResponse {
	t.Helper()
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != "" {
		req.Params = []byte(params)
	}
	return h.HandleRequest(context.Background(), req)
}

func TestInitialize(t *testing.T) {
	h := newHandler(&fakeSearcher{})
	resp := call(t, h, 1, "initialize", "")
	require.Nil(t, resp.Error)

	initRes, ok := resp.Result.(InitializeResult)
	require.True(t, ok)
	assert.Equal(t, MCPVersion, initRes.ProtocolVersion)
	assert.Equal(t, "go-metasearch", initRes.ServerInfo.Name)
}

func TestToolsList(t *testing.T) {
	h := newHandler(&fakeSearcher{})
	resp := call(t, h, 2, "tools/list", "")
	require.Nil(t, resp.Error)

	list := resp.Result.(ListToolsResult)
	require.Len(t, list.Tools, 1)
	tool := list.Tools[0]
	assert.Equal(t, "search", tool.Name)
	assert.Equal(t, []string{"query"}, tool.InputSchema.Required)
	assert.Contains(t, tool.InputSchema.Properties, "safesearch")
	assert.Equal(t, config.ValidEngines, tool.InputSchema.Properties["engines"].Items.Enum)
}

func TestSearchTool(t *testing.T) {
	s := &fakeSearcher{res: &engine.SearchResults{
		Results:   []engine.SearchResult{engine.NewSearchResult("Go", "https://go.dev/", "The Go language", "bing")},
		PageQuery: "golang",
	}}
	h := newHandler(s)

	resp := call(t, h, 3, "tools/call", `{"name":"search","arguments":{"query":"golang","page":2,"safesearch":4}}`)
	require.Nil(t, resp.Error)
	res := resp.Result.(*CallToolResult)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].Text, `"url": "https://go.dev/"`)

	require.Len(t, s.requests, 1)
	req := s.requests[0]
	assert.Equal(t, "golang", req.Query)
	assert.Equal(t, uint(2), req.Page)
	assert.Equal(t, uint8(2), req.SafeSearch, "levels above 2 fall back to the configured default")
	assert.Equal(t, []string{"bing", "brave"}, req.Engines)
}

func TestSearchToolExplicitEngines(t *testing.T) {
	s := &fakeSearcher{res: &engine.SearchResults{}}
	h := newHandler(s)

	resp := call(t, h, 4, "tools/call", `{"name":"search","arguments":{"query":"x","safesearch":0,"engines":["mojeek"]}}`)
	require.Nil(t, resp.Error)
	require.Len(t, s.requests, 1)
	assert.Equal(t, []string{"mojeek"}, s.requests[0].Engines)
	assert.Equal(t, uint8(0), s.requests[0].SafeSearch)
	assert.Equal(t, uint(1), s.requests[0].Page)
}

func TestSearchToolErrors(t *testing.T) {
	t.Run("blank query", func(t *testing.T) {
		s := &fakeSearcher{}
		resp := call(t, newHandler(s), 5, "tools/call", `{"name":"search","arguments":{"query":"  "}}`)
		require.Nil(t, resp.Error)
		assert.True(t, resp.Result.(*CallToolResult).IsError)
		assert.Empty(t, s.requests)
	})

	t.Run("search failure", func(t *testing.T) {
		s := &fakeSearcher{err: errors.New("boom")}
		resp := call(t, newHandler(s), 6, "tools/call", `{"name":"search","arguments":{"query":"x"}}`)
		res := resp.Result.(*CallToolResult)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content[0].Text, "boom")
	})

	t.Run("unknown tool", func(t *testing.T) {
		resp := call(t, newHandler(&fakeSearcher{}), 7, "tools/call", `{"name":"fetch"}`)
		assert.True(t, resp.Result.(*CallToolResult).IsError)
	})

	t.Run("malformed params", func(t *testing.T) {
		resp := call(t, newHandler(&fakeSearcher{}), 8, "tools/call", `[1,2]`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	})
}

func TestProtocolErrors(t *testing.T) {
	h := newHandler(&fakeSearcher{})

	resp := call(t, h, 9, "sampling/createMessage", "")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	resp = h.HandleRequest(context.Background(), JSONRPCRequest{JSONRPC: "1.0", ID: 10, Method: "ping"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	resp = call(t, h, nil, "notifications/initialized", "")
	assert.Equal(t, JSONRPCResponse{}, resp)
}
