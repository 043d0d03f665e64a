package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

type stubSearcher struct {
	last orchestrator.SearchRequest
	err  error
	docs map[string]proto.Document
}

func (s *stubSearcher) Search(_ context.Context, req orchestrator.SearchRequest) (*orchestrator.SearchResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &orchestrator.SearchResponse{
		Query:   req.Query,
		Terms:   []string{"go"},
		Results: []proto.ResultEntry{{Ref: "/docs/install", Score: 2.5}, {Ref: "/missing", Score: 1}},
		Source:  orchestrator.SourceCache,
		Total:   2,
	}, nil
}

func (s *stubSearcher) Lookup(ref string) (proto.Document, bool) {
	d, ok := s.docs[ref]
	return d, ok
}

func (s *stubSearcher) Sections() []string { return []string{"blog", "docs"} }

func newStub() *stubSearcher {
	return &stubSearcher{docs: map[string]proto.Document{
		"/docs/install": {URL: "/docs/install", Title: "Installing Go", Section: "docs", Tags: []string{"setup"}, Content: "Download the go toolchain and unpack it."},
	}}
}

func TestHandleSearch_Defaults(t *testing.T) {
	stub := newStub()
	srv := New(stub, config.Default().Search, "test")

	_, out, err := srv.handleSearch(context.Background(), nil, SearchInput{
		Query:      "go",
		Sections:   []string{"docs"},
		Tags:       []string{"setup"},
		ExactMatch: true,
	})
	require.NoError(t, err)

	assert.Equal(t, defaultLimit, stub.last.Limit)
	assert.Equal(t, []string{"docs"}, stub.last.Tabs)
	assert.True(t, stub.last.Options.ExactMatch)
	assert.Equal(t, "mcp", stub.last.Session)
	assert.False(t, stub.last.Options.UseRegex)

	require.Equal(t, 1, out.Count)
	r := out.Results[0]
	assert.Equal(t, "/docs/install", r.URL)
	assert.Equal(t, 2.5, r.Score)
	assert.Contains(t, r.Snippet, "<mark>go</mark>")
	assert.Equal(t, orchestrator.SourceCache, out.Source)
}

func TestHandleSearch_PropagatesErrors(t *testing.T) {
	stub := newStub()
	stub.err = apperrors.ErrNotReady
	srv := New(stub, config.Default().Search, "test")

	_, _, err := srv.handleSearch(context.Background(), nil, SearchInput{Query: "go", Limit: 3})
	assert.ErrorIs(t, err, apperrors.ErrNotReady)
	assert.Equal(t, 3, stub.last.Limit)
}

func session(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.MCP().Run(ctx, serverT) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "sitesearch-test", Version: "0.1.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcp.ClientSession, name string, args any) string {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestMCP_ListsTools(t *testing.T) {
	cs := session(t, New(newStub(), config.Default().Search, "test"))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"site_search", "site_sections"}, names)
}

func TestMCP_SiteSearch(t *testing.T) {
	stub := newStub()
	cs := session(t, New(stub, config.Default().Search, "test"))

	text := callText(t, cs, "site_search", map[string]any{
		"query":          "go",
		"case_sensitive": true,
		"limit":          5,
	})
	var out SearchOutput
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "Installing Go", out.Results[0].Title)
	assert.True(t, stub.last.Options.CaseSensitive)
	assert.Equal(t, 5, stub.last.Limit)
}

func TestMCP_SiteSections(t *testing.T) {
	cs := session(t, New(newStub(), config.Default().Search, "test"))

	var out SectionsOutput
	require.NoError(t, json.Unmarshal([]byte(callText(t, cs, "site_sections", map[string]any{})), &out))
	assert.Equal(t, []string{"blog", "docs"}, out.Sections)
}
