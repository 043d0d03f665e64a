package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/highlight"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/textmatch"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

type SearchInput struct {
	Query         string   `json:"query" jsonschema:"search text; quote phrases and use /tag:a,b to require tags"`
	Sections      []string `json:"sections,omitempty" jsonschema:"restrict to these site sections"`
	Tags          []string `json:"tags,omitempty" jsonschema:"only return pages carrying every one of these tags"`
	ExactMatch    bool     `json:"exact_match,omitempty" jsonschema:"match whole words only"`
	CaseSensitive bool     `json:"case_sensitive,omitempty" jsonschema:"match letter case exactly"`
	Regex         bool     `json:"regex,omitempty" jsonschema:"treat query as a regular expression"`
	Limit         int      `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
}

type SearchOutput struct {
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
	Source  string         `json:"source"`
}

type SearchResult struct {
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Section string   `json:"section,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Score   float64  `json:"score"`
	Snippet string   `json:"snippet,omitempty"`
}

type SectionsInput struct{}

type SectionsOutput struct {
	Sections []string `json:"sections"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "site_search",
		Description: "Full-text search over the site's pages, ranked by relevance",
	}, s.handleSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "site_sections",
		Description: "List the site sections that site_search can be restricted to",
	}, s.handleSections)
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	opts := proto.Options{
		ExactMatch:    in.ExactMatch,
		CaseSensitive: in.CaseSensitive,
		UseRegex:      in.Regex,
	}
	resp, err := s.svc.Search(ctx, orchestrator.SearchRequest{
		Query:   in.Query,
		Tabs:    in.Sections,
		Tags:    in.Tags,
		Options: opts,
		Limit:   limit,
		Session: toolSession(req),
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}

	hl := highlight.New(s.search.SnippetLength, s.search.SnippetContext, textmatch.NewMatcher(opts))
	out := SearchOutput{Results: make([]SearchResult, 0, len(resp.Results)), Source: resp.Source}
	for _, r := range resp.Results {
		doc, ok := s.svc.Lookup(r.Ref)
		if !ok {
			continue
		}
		out.Results = append(out.Results, SearchResult{
			URL:     doc.URL,
			Title:   doc.Title,
			Section: doc.Section,
			Tags:    doc.Tags,
			Score:   r.Score,
			Snippet: hl.Snippet(doc.Body(), resp.Terms),
		})
	}
	out.Count = len(out.Results)
	return nil, out, nil
}

func (s *Server) handleSections(context.Context, *mcp.CallToolRequest, SectionsInput) (*mcp.CallToolResult, SectionsOutput, error) {
	secs := s.svc.Sections()
	if secs == nil {
		secs = []string{}
	}
	return nil, SectionsOutput{Sections: secs}, nil
}

// toolSession keeps each MCP client in its own cancellation slot.
func toolSession(req *mcp.CallToolRequest) string {
	if req == nil || req.Session == nil {
		return "mcp"
	}
	return "mcp:" + req.Session.ID()
}
