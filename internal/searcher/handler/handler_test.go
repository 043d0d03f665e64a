package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/querycache"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

type fakeService struct {
	lastReq   orchestrator.SearchRequest
	resp      *orchestrator.SearchResponse
	err       error
	docs      map[string]proto.Document
	forced    bool
	rebuildEr error
	cleared   int
}

func (f *fakeService) Search(_ context.Context, req orchestrator.SearchRequest) (*orchestrator.SearchResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeService) Lookup(ref string) (proto.Document, bool) {
	d, ok := f.docs[ref]
	return d, ok
}

func (f *fakeService) Sections() []string { return []string{"blog", "docs"} }

func (f *fakeService) Status() orchestrator.Status {
	return orchestrator.Status{Ready: true, Docs: len(f.docs), Build: orchestrator.BuildStatus{State: orchestrator.StateReady}}
}

func (f *fakeService) Rebuild(_ context.Context, force bool) (orchestrator.BuildStatus, error) {
	f.forced = force
	return orchestrator.BuildStatus{State: orchestrator.StateReady, Docs: len(f.docs)}, f.rebuildEr
}

func (f *fakeService) InvalidateCache(context.Context) (int, error) {
	f.cleared++
	return 3, nil
}

func newFake() *fakeService {
	return &fakeService{
		docs: map[string]proto.Document{
			"/docs/install": {URL: "/docs/install", Title: "Installing Go", Section: "docs", Tags: []string{"setup"}, Content: "Download the <b>go</b> toolchain."},
		},
		resp: &orchestrator.SearchResponse{
			Query:   "go",
			Terms:   []string{"go"},
			Results: []proto.ResultEntry{{Ref: "/docs/install", Score: 3}, {Ref: "/gone", Score: 1}},
			Source:  orchestrator.SourceWorker,
			Total:   2,
		},
	}
}

func serve(h http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestSearch_ParsesParamsAndHighlights(t *testing.T) {
	svc := newFake()
	h := New(svc, nil, config.Default().Search)

	rec := serve(h.Search, http.MethodGet, "/api/v1/search?q=go&tabs=docs,blog&tags=setup&exact=true&case=0&limit=5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "go", svc.lastReq.Query)
	assert.Equal(t, []string{"docs", "blog"}, svc.lastReq.Tabs)
	assert.Equal(t, []string{"setup"}, svc.lastReq.Tags)
	assert.True(t, svc.lastReq.Options.ExactMatch)
	assert.False(t, svc.lastReq.Options.CaseSensitive)
	assert.Equal(t, 5, svc.lastReq.Limit)

	var out SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Results, 1, "unresolvable refs are dropped")
	hit := out.Results[0]
	assert.Equal(t, "/docs/install", hit.URL)
	assert.Equal(t, "Installing <mark>Go</mark>", hit.TitleHTML)
	require.Len(t, hit.Snippets, 1)
	assert.Contains(t, hit.Snippets[0], "&lt;b&gt;<mark>go</mark>&lt;/b&gt;")
	assert.Equal(t, orchestrator.SourceWorker, out.Source)
}

func TestSearch_SessionScopesCancellation(t *testing.T) {
	svc := newFake()
	h := New(svc, nil, config.Default().Search)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=go", nil)
	req.Header.Set(SessionHeader, "tab-7")
	h.Search(httptest.NewRecorder(), req)
	assert.Equal(t, "session:tab-7", svc.lastReq.Session)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/search?q=go", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	h.Search(httptest.NewRecorder(), req)
	assert.Equal(t, "client:203.0.113.5", svc.lastReq.Session)

	serve(h.Search, http.MethodGet, "/api/v1/search?q=go")
	assert.Equal(t, "client:192.0.2.1", svc.lastReq.Session)
}

func TestSearch_BadRequests(t *testing.T) {
	h := New(newFake(), nil, config.Default().Search)
	for _, target := range []string{
		"/api/v1/search",
		"/api/v1/search?q=go&limit=0",
		"/api/v1/search?q=go&limit=x",
		"/api/v1/search?q=go&regex=maybe",
	} {
		assert.Equal(t, http.StatusBadRequest, serve(h.Search, http.MethodGet, target).Code, target)
	}
}

func TestSearch_MapsServiceErrors(t *testing.T) {
	svc := newFake()
	h := New(svc, nil, config.Default().Search)

	svc.err = apperrors.ErrNotReady
	rec := serve(h.Search, http.MethodGet, "/api/v1/search?q=go")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc.err = apperrors.Invalid("query must be at least 2 characters")
	rec = serve(h.Search, http.MethodGet, "/api/v1/search?q=g")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least 2")

	svc.err = errors.New("disk on fire")
	rec = serve(h.Search, http.MethodGet, "/api/v1/search?q=go")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk")
}

func TestRebuild(t *testing.T) {
	svc := newFake()
	h := New(svc, nil, config.Default().Search)

	rec := serve(h.Rebuild, http.MethodPost, "/api/v1/rebuild?force=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.forced)

	svc.rebuildEr = apperrors.ErrBuildFailed
	rec = serve(h.Rebuild, http.MethodPost, "/api/v1/rebuild")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	assert.Equal(t, http.StatusBadRequest, serve(h.Rebuild, http.MethodPost, "/api/v1/rebuild?force=perhaps").Code)
}

func TestCacheEndpoints(t *testing.T) {
	svc := newFake()

	disabled := New(svc, nil, config.Default().Search)
	assert.Contains(t, serve(disabled.CacheStats, http.MethodGet, "/api/v1/cache/stats").Body.String(), "disabled")
	assert.Equal(t, http.StatusServiceUnavailable, serve(disabled.CacheInvalidate, http.MethodPost, "/api/v1/cache/invalidate").Code)

	cfg := config.Default()
	cache := querycache.New(kvstore.NewMemory(), cfg.QueryCache, nil)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", []int{1}, 0))
	var v []int
	cache.Get(ctx, "k", &v)
	cache.Get(ctx, "missing", &v)

	h := New(svc, cache, cfg.Search)
	rec := serve(h.CacheStats, http.MethodGet, "/api/v1/cache/stats")
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["hits"])
	assert.EqualValues(t, 1, stats["misses"])
	assert.EqualValues(t, 1, stats["entries"])
	assert.Equal(t, "50.0%", stats["hit_rate"])

	rec = serve(h.CacheInvalidate, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.cleared)
}

func TestSectionsAndStatus(t *testing.T) {
	h := New(newFake(), nil, config.Default().Search)

	rec := serve(h.Sections, http.MethodGet, "/api/v1/sections")
	assert.JSONEq(t, `{"sections":["blog","docs"]}`, rec.Body.String())

	rec = serve(h.Status, http.MethodGet, "/api/v1/status")
	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Ready)
	assert.Equal(t, orchestrator.StateReady, st.Build.State)
}
