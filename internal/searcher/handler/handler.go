// Package handler serves the search HTTP API on top of the orchestrator
// service: search with highlighted snippets, sections, status, rebuilds and
// query cache administration.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/highlight"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/querycache"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/textmatch"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// SessionHeader scopes latest-query-wins cancellation to one browser tab.
// Without it every request from the same client address shares a slot.
const SessionHeader = "X-Session-ID"

// Service is the part of the orchestrator service the API needs.
type Service interface {
	Search(ctx context.Context, req orchestrator.SearchRequest) (*orchestrator.SearchResponse, error)
	Lookup(ref string) (proto.Document, bool)
	Sections() []string
	Status() orchestrator.Status
	Rebuild(ctx context.Context, force bool) (orchestrator.BuildStatus, error)
	InvalidateCache(ctx context.Context) (int, error)
}

// Hit is a search result joined with its document.
type Hit struct {
	Ref       string   `json:"ref"`
	Score     float64  `json:"score"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	TitleHTML string   `json:"titleHtml"`
	Section   string   `json:"section,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Date      string   `json:"date,omitempty"`
	Snippets  []string `json:"snippets"`
}

type SearchResult struct {
	Query     string   `json:"query"`
	Results   []Hit    `json:"results"`
	Source    string   `json:"source"`
	Total     int      `json:"total"`
	LatencyMs int64    `json:"latency_ms"`
	Terms     []string `json:"terms"`
}

type Handler struct {
	svc    Service
	cache  *querycache.Cache
	search config.SearchConfig
	logger *slog.Logger
}

// New builds the API handlers. queryCache may be nil when caching is off.
func New(svc Service, queryCache *querycache.Cache, search config.SearchConfig) *Handler {
	return &Handler{
		svc:    svc,
		cache:  queryCache,
		search: search,
		logger: slog.Default().With("component", "search-handler"),
	}
}

// Search serves GET /api/v1/search?q=&tabs=&tags=&exact=&case=&regex=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	qs := r.URL.Query()

	query := qs.Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	req := orchestrator.SearchRequest{
		Query:   query,
		Tabs:    parser.SplitList(qs.Get("tabs")),
		Tags:    parser.SplitList(qs.Get("tags")),
		Session: session(r),
	}
	var err error
	if req.Options, err = parseOptions(qs.Get("exact"), qs.Get("case"), qs.Get("regex")); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		req.Limit = n
	}

	resp, err := h.svc.Search(ctx, req)
	if err != nil {
		log.Warn("search failed", "query", query, "error", err)
		h.writeAppError(w, err)
		return
	}

	result := SearchResult{
		Query:     resp.Query,
		Results:   h.hits(resp, req.Options),
		Source:    resp.Source,
		Total:     resp.Total,
		LatencyMs: time.Since(start).Milliseconds(),
		Terms:     resp.Terms,
	}
	log.Info("search completed",
		"query", query,
		"returned", result.Total,
		"source", result.Source,
		"latency_ms", result.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, result)
}

func session(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(SessionHeader)); id != "" {
		return "session:" + id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return "client:" + first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "client:" + host
}

func parseOptions(exact, caseSensitive, regex string) (proto.Options, error) {
	var opts proto.Options
	for _, f := range []struct {
		name string
		raw  string
		dst  *bool
	}{
		{"exact", exact, &opts.ExactMatch},
		{"case", caseSensitive, &opts.CaseSensitive},
		{"regex", regex, &opts.UseRegex},
	} {
		if f.raw == "" {
			continue
		}
		v, err := strconv.ParseBool(f.raw)
		if err != nil {
			return opts, fmt.Errorf("%s must be a boolean", f.name)
		}
		*f.dst = v
	}
	return opts, nil
}

// hits joins results with their documents and highlights them. Refs that no
// longer resolve are dropped.
func (h *Handler) hits(resp *orchestrator.SearchResponse, opts proto.Options) []Hit {
	hl := highlight.New(h.search.SnippetLength, h.search.SnippetContext, textmatch.NewMatcher(opts))
	out := make([]Hit, 0, len(resp.Results))
	for _, r := range resp.Results {
		doc, ok := h.svc.Lookup(r.Ref)
		if !ok {
			continue
		}
		body := doc.Body()
		snippets := hl.Snippets(body, resp.Terms)
		if len(snippets) == 0 && body != "" {
			snippets = []string{hl.Snippet(body, resp.Terms)}
		}
		if snippets == nil {
			snippets = []string{}
		}
		out = append(out, Hit{
			Ref:       r.Ref,
			Score:     r.Score,
			URL:       doc.URL,
			Title:     doc.Title,
			TitleHTML: hl.Mark(doc.Title, resp.Terms),
			Section:   doc.Section,
			Tags:      doc.Tags,
			Date:      doc.Date,
			Snippets:  snippets,
		})
	}
	return out
}

func (h *Handler) Sections(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{"sections": h.svc.Sections()})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Status())
}

// Rebuild serves POST /api/v1/rebuild[?force=true].
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = b
	}
	status, err := h.svc.Rebuild(r.Context(), force)
	if err != nil {
		logger.FromContext(r.Context()).Error("rebuild failed", "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	entries := -1
	if keys, err := h.cache.Keys(r.Context()); err == nil {
		entries = len(keys)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"entries":  entries,
		"healthy":  h.cache.Healthy(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	n, err := h.svc.InvalidateCache(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "entries": n})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	h.writeError(w, apperrors.HTTPStatusCode(err), apperrors.PublicMessage(err))
}
