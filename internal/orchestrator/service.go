package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/events"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/fingerprint"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/querycache"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/textmatch"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// Result sources reported on responses, metrics and analytics.
const (
	SourceWorker = "worker"
	SourceCache  = "cache"
	SourceScan   = "scan"
)

// Build states.
const (
	StateIdle     = "idle"
	StateBuilding = "building"
	StateReady    = "ready"
	StateFailed   = "failed"
)

const watchDebounce = 500 * time.Millisecond

// Deps are the collaborators of a Service. Store and Source are required;
// everything else has a default.
type Deps struct {
	Store       kvstore.Store
	Source      corpus.Source
	Cache       *querycache.Cache // nil disables the query cache
	QueryWorker Conn
	NewBuilder  func() Conn
	Publisher   events.Publisher
	Tracker     analytics.Tracker
	Metrics     *metrics.Metrics
}

// SearchRequest is a raw search as typed by a user. Session identifies the
// caller: a newer search in the same session cancels the pending one.
type SearchRequest struct {
	Query   string
	Tabs    []string
	Tags    []string
	Options proto.Options
	Limit   int
	Session string
}

// SearchResponse carries ranked refs plus the terms used, for highlighting.
type SearchResponse struct {
	Query   string              `json:"query"`
	Terms   []string            `json:"terms"`
	Results []proto.ResultEntry `json:"results"`
	Source  string              `json:"source"`
	Total   int                 `json:"total"`
}

// BuildStatus describes the latest build.
type BuildStatus struct {
	State       string          `json:"state"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Step        string          `json:"step,omitempty"`
	Progress    *proto.Progress `json:"progress,omitempty"`
	Error       string          `json:"error,omitempty"`
	Docs        int             `json:"docs"`
	BuiltAt     *time.Time      `json:"builtAt,omitempty"`
	DurationMs  int64           `json:"durationMs,omitempty"`
}

type Status struct {
	Ready    bool        `json:"ready"`
	Sections []string    `json:"sections"`
	Docs     int         `json:"docs"`
	Corpus   string      `json:"corpus"`
	Build    BuildStatus `json:"build"`
}

type docIndex struct {
	docs  []proto.Document
	byURL map[string]proto.Document
}

// Service is the application root: it owns the corpus, the orchestrator and
// the query cache, and implements cold start, rebuilds and search.
type Service struct {
	cfg        *config.Config
	store      kvstore.Store
	source     corpus.Source
	loader     *corpus.Loader
	prints     *fingerprint.Store
	cache      *querycache.Cache
	orch       *Orchestrator
	newBuilder func() Conn
	publisher  events.Publisher
	tracker    analytics.Tracker
	metrics    *metrics.Metrics
	logger     *slog.Logger

	builds   singleflight.Group
	buildSeq atomic.Int64
	docs     atomic.Pointer[docIndex]
	bg       sync.WaitGroup

	// gen counts hydrated builds. Cache writes carry the generation their
	// query started under and are dropped once it has moved on; genMu keeps
	// a write from straddling the bump.
	genMu sync.RWMutex
	gen   int64

	mu     sync.Mutex
	status BuildStatus
}

func NewService(cfg *config.Config, d Deps) *Service {
	if d.QueryWorker == nil {
		d.QueryWorker = searcher.NewQueryWorker(d.Store, cfg.Workers)
	}
	if d.NewBuilder == nil {
		d.NewBuilder = func() Conn { return indexer.NewBuildWorker(d.Store, cfg.Workers, d.Metrics) }
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Tracker == nil {
		d.Tracker = analytics.Multi()
	}
	s := &Service{
		cfg:        cfg,
		store:      d.Store,
		source:     d.Source,
		loader:     corpus.NewLoader(d.Store, d.Source),
		prints:     fingerprint.NewStore(d.Store),
		cache:      d.Cache,
		orch:       New(d.QueryWorker, cfg.Workers, d.Metrics),
		newBuilder: d.NewBuilder,
		publisher:  d.Publisher,
		tracker:    d.Tracker,
		metrics:    d.Metrics,
		logger:     slog.Default().With("component", "service"),
		status:     BuildStatus{State: StateIdle},
	}
	s.docs.Store(&docIndex{byURL: map[string]proto.Document{}})
	return s
}

// Start brings the service to a searchable state: cached indexes when they
// match the current corpus, a fresh build otherwise.
func (s *Service) Start(ctx context.Context) error {
	stored, err := s.prints.Load(ctx)
	if err != nil {
		s.logger.Warn("stored fingerprint unreadable", "error", err)
	}

	cacheErr := s.orch.LoadCached(ctx, stored)
	if cacheErr != nil {
		s.logger.Info("no usable cached indexes", "reason", cacheErr)
	} else {
		s.setStatus(func(b *BuildStatus) {
			b.State = StateReady
			b.Fingerprint = stored
		})
	}

	snap, err := s.loader.Load(ctx)
	if err != nil {
		if cacheErr == nil {
			s.logger.Warn("corpus unavailable, serving cached indexes", "error", err)
			return nil
		}
		return fmt.Errorf("loading corpus: %w", err)
	}
	s.setDocs(snap.Docs)

	raw, docs := snap.Raw, snap.Docs
	if raw == nil {
		fresh, freshDocs, err := s.loader.Fresh(ctx)
		switch {
		case err == nil:
			raw, docs = fresh.Data, freshDocs
			s.setDocs(docs)
		case cacheErr == nil:
			s.logger.Warn("fresh corpus fetch failed, keeping cached indexes", "error", err)
			return nil
		default:
			s.logger.Warn("fresh corpus fetch failed, building from loaded copy", "error", err)
		}
	}

	decision := fingerprint.Decision{Rebuild: true}
	if raw != nil {
		decision = fingerprint.ShouldRebuild(raw, stored)
	}
	if !decision.Rebuild && cacheErr == nil {
		s.metrics.ObserveBuild("skipped", 0)
		s.logger.Info("indexes up to date", "fingerprint", short(stored))
		return nil
	}
	_, err = s.build(ctx, docs, decision.Fingerprint, stored)
	return err
}

// Rebuild refetches the corpus and rebuilds when its fingerprint changed, the
// worker is not ready, or force is set.
func (s *Service) Rebuild(ctx context.Context, force bool) (BuildStatus, error) {
	raw, docs, err := s.loader.Fresh(ctx)
	if err != nil {
		return s.Status().Build, fmt.Errorf("fetching corpus: %w", err)
	}
	s.setDocs(docs)

	decision, err := s.prints.Gate(ctx, raw.Data)
	if err != nil {
		s.logger.Warn("stored fingerprint unreadable", "error", err)
	}
	if !decision.Rebuild && !force && s.orch.Ready() {
		s.metrics.ObserveBuild("skipped", 0)
		return s.Status().Build, nil
	}
	return s.build(ctx, docs, decision.Fingerprint, decision.Previous)
}

// build runs at most one build per fingerprint at a time; concurrent callers
// share its outcome.
func (s *Service) build(ctx context.Context, docs []proto.Document, fp, previous string) (BuildStatus, error) {
	v, err, shared := s.builds.Do("build:"+fp, func() (any, error) {
		return s.runBuild(context.WithoutCancel(ctx), docs, fp, previous)
	})
	if shared {
		s.logger.Debug("joined in-flight build", "fingerprint", short(fp))
	}
	status, _ := v.(BuildStatus)
	return status, err
}

func (s *Service) runBuild(ctx context.Context, docs []proto.Document, fp, previous string) (BuildStatus, error) {
	start := time.Now()
	s.setStatus(func(b *BuildStatus) {
		b.State = StateBuilding
		b.Fingerprint = fp
		b.Step = ""
		b.Progress = nil
		b.Error = ""
		b.Docs = len(docs)
	})

	req := proto.Request{
		Type:        proto.TypeBuild,
		ID:          s.buildSeq.Add(1),
		Docs:        docs,
		Fingerprint: fp,
	}
	resp, err := RunBuild(ctx, s.newBuilder(), req, s.onBuildEvent)
	if err != nil {
		return s.failBuild(err)
	}
	if err := s.orch.Hydrate(ctx, resp.Indices, resp.Sections, resp.Docs); err != nil {
		return s.failBuild(fmt.Errorf("hydrating built indexes: %w", err))
	}
	s.nextGeneration()

	if fp != "" {
		if err := s.prints.Save(ctx, fp); err != nil {
			s.logger.Warn("fingerprint not saved", "error", err)
		}
	}
	if s.cache != nil {
		n, err := s.cache.Clear(ctx)
		if err != nil {
			s.logger.Warn("query cache not cleared", "error", err)
		} else if n > 0 {
			s.logger.Info("query cache cleared after build", "entries", n, "previous", short(previous))
		}
	}

	elapsed := time.Since(start)
	if err := s.publisher.IndexComplete(ctx, events.IndexComplete{
		Fingerprint: fp,
		Docs:        len(docs),
		Sections:    resp.Sections,
		DurationMs:  elapsed.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("index complete event not published", "error", err)
	}

	now := time.Now().UTC()
	return s.setStatus(func(b *BuildStatus) {
		b.State = StateReady
		b.Step = ""
		b.BuiltAt = &now
		b.DurationMs = elapsed.Milliseconds()
	}), nil
}

func (s *Service) failBuild(err error) (BuildStatus, error) {
	s.logger.Error("build failed", "error", err)
	return s.setStatus(func(b *BuildStatus) {
		b.State = StateFailed
		b.Error = err.Error()
	}), err
}

func (s *Service) onBuildEvent(resp proto.Response) {
	switch resp.Type {
	case proto.TypeBuildStep:
		s.logger.Debug("build step", "step", resp.Step, "message", resp.Message)
		s.setStatus(func(b *BuildStatus) { b.Step = resp.Step })
	case proto.TypeSectionBuilt:
		s.logger.Debug("section built", "section", resp.Section, "progress", resp.Progress)
		s.setStatus(func(b *BuildStatus) {
			b.Step = "section_built"
			b.Progress = resp.Progress
		})
	}
}

// Search answers req from the worker, the query cache or a regex scan.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	q := strings.TrimSpace(req.Query)
	if minLen := s.cfg.Search.MinQueryLength; utf8.RuneCountInString(q) < minLen {
		return nil, apperrors.Invalid("query must be at least %d characters", minLen)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.Search.ResultLimit
	}
	if maxResults := s.cfg.Search.MaxResults; maxResults > 0 && limit > maxResults {
		limit = maxResults
	}
	if limit <= 0 {
		limit = searcher.DefaultLimit
	}

	var (
		resp   *SearchResponse
		err    error
		source = SourceWorker
	)
	if req.Options.UseRegex {
		source = SourceScan
		resp, err = s.scan(ctx, q, req, limit)
	} else {
		resp, err = s.indexed(ctx, q, req, limit)
	}
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ObserveSearch(source, outcome(err), elapsed, 0)
		return nil, err
	}
	resp.Total = len(resp.Results)
	s.metrics.ObserveSearch(resp.Source, "ok", elapsed, resp.Total)
	s.tracker.Track(analytics.NewSearchEvent(q, resp.Terms, req.Tabs, resp.Total, elapsed, resp.Source, logger.RequestID(ctx)))
	return resp, nil
}

func (s *Service) scan(ctx context.Context, q string, req SearchRequest, limit int) (*SearchResponse, error) {
	re, err := textmatch.CompileRegex(q, req.Options.CaseSensitive)
	if err != nil {
		return nil, err
	}
	scanLimit := min(limit, searcher.DefaultLimit)
	compute := func() ([]proto.ResultEntry, error) {
		return textmatch.Scan(s.docs.Load().docs, re, req.Tags, scanLimit), nil
	}
	resp := &SearchResponse{Query: q, Terms: []string{}, Source: SourceScan}
	if s.cache == nil {
		resp.Results, _ = compute()
		return resp, nil
	}
	key := querycache.SearchKey(q, req.Options, req.Tags, nil, s.keyLimit(scanLimit))
	results, cached, err := querycache.GetOrCompute(ctx, s.cache, key, compute)
	if err != nil {
		return nil, err
	}
	if cached {
		resp.Source = SourceCache
	}
	resp.Results = results
	return resp, nil
}

func (s *Service) indexed(ctx context.Context, q string, req SearchRequest, limit int) (*SearchResponse, error) {
	plan := parser.Parse(q, req.Options.CaseSensitive)
	resp := &SearchResponse{Query: q, Terms: plan.Terms, Results: []proto.ResultEntry{}}
	if plan.Empty() {
		resp.Source = SourceWorker
		return resp, nil
	}
	tabs := scope(req.Tabs)
	searchKey := querycache.SearchKey(q, req.Options, req.Tags, tabs, s.keyLimit(limit))

	if !s.orch.Ready() {
		var cached []proto.ResultEntry
		if s.cache != nil && s.cache.Get(ctx, searchKey, &cached) {
			resp.Results, resp.Source = cached, SourceCache
			return resp, nil
		}
		return nil, apperrors.ErrNotReady
	}

	params := proto.QueryParams{
		Terms:   plan.Terms,
		Tags:    plan.Tags,
		Tabs:    tabs,
		Limit:   limit,
		Options: req.Options,
		Phrases: plan.Phrases,
	}
	gen := s.generation()
	results, source, err := s.race(ctx, req.Session, params, gen)
	if err != nil {
		return nil, err
	}
	resp.Results = s.postFilter(results, plan, req, limit)
	resp.Source = source
	s.writeBack(ctx, gen, searchKey, resp.Results)
	return resp, nil
}

var errCacheMiss = errors.New("cache miss")

type raced struct {
	results []proto.ResultEntry
	source  string
	err     error
}

// race takes the first of the worker answer and a cache hit on the worker
// key. The worker leg outlives the caller, bounded by the safety timeout, so
// its answer is written back to the cache even when the cache won.
func (s *Service) race(ctx context.Context, session string, params proto.QueryParams, gen int64) ([]proto.ResultEntry, string, error) {
	if s.cache == nil {
		r, err := s.orch.Query(ctx, session, params)
		return r, SourceWorker, err
	}
	key := querycache.WorkerKey(params)
	ch := make(chan raced, 2)

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.orch.safety)
		defer cancel()
		r, err := s.orch.Query(wctx, session, params)
		if err == nil {
			s.writeBack(wctx, gen, key, r)
		}
		ch <- raced{results: r, source: SourceWorker, err: err}
	}()
	go func() {
		var r []proto.ResultEntry
		if s.cache.Get(ctx, key, &r) {
			ch <- raced{results: r, source: SourceCache}
			return
		}
		ch <- raced{source: SourceCache, err: errCacheMiss}
	}()

	var workerErr error
	for range 2 {
		var o raced
		select {
		case o = <-ch:
		case <-ctx.Done():
			return nil, SourceWorker, ctx.Err()
		}
		if o.err == nil {
			return o.results, o.source, nil
		}
		if o.source == SourceWorker {
			if errors.Is(o.err, apperrors.ErrCanceled) {
				return nil, SourceWorker, o.err
			}
			workerErr = o.err
		}
	}
	return nil, SourceWorker, workerErr
}

// postFilter applies the selected-tag filters and the literal term check
// shared with the worker, then truncates to limit.
func (s *Service) postFilter(results []proto.ResultEntry, plan *parser.QueryPlan, req SearchRequest, limit int) []proto.ResultEntry {
	literal := req.Options.CaseSensitive
	if len(req.Tags) == 0 && !literal {
		if len(results) > limit {
			results = results[:limit]
		}
		return results
	}
	idx := s.docs.Load()
	out := make([]proto.ResultEntry, 0, min(limit, len(results)))
	for _, r := range results {
		if len(out) == limit {
			break
		}
		doc, ok := idx.byURL[r.Ref]
		if !ok {
			continue
		}
		if !textmatch.HasAllTags(doc, req.Tags) {
			continue
		}
		if literal && !textmatch.Accept(doc, plan.Terms, plan.Phrases, req.Options) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// nextGeneration waits for in-flight cache writes and retires their
// generation.
func (s *Service) nextGeneration() {
	s.genMu.Lock()
	s.gen++
	s.genMu.Unlock()
}

func (s *Service) generation() int64 {
	s.genMu.RLock()
	defer s.genMu.RUnlock()
	return s.gen
}

// writeBack stores value under key without holding up the caller. Values
// computed before the latest hydrate are dropped.
func (s *Service) writeBack(ctx context.Context, gen int64, key string, value []proto.ResultEntry) {
	if s.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.genMu.RLock()
		defer s.genMu.RUnlock()
		if gen != s.gen {
			logger.FromContext(ctx).Debug("dropping cache write from an older build", "key", key)
			return
		}
		if err := s.cache.Set(ctx, key, value, 0); err != nil {
			logger.FromContext(ctx).Debug("cache write-back failed", "error", err)
		}
	}()
}

// keyLimit leaves the default limit out of cache keys.
func (s *Service) keyLimit(limit int) int {
	if limit == s.cfg.Search.ResultLimit {
		return 0
	}
	return limit
}

// Lookup returns the corpus document with the given URL.
func (s *Service) Lookup(ref string) (proto.Document, bool) {
	d, ok := s.docs.Load().byURL[ref]
	return d, ok
}

// Sections lists the searchable sections, from the worker once it is ready.
func (s *Service) Sections() []string {
	if s.orch.Ready() {
		if secs := s.orch.Sections(); len(secs) > 0 {
			return secs
		}
	}
	return corpus.Sections(s.docs.Load().docs)
}

func (s *Service) Ready() bool {
	return s.orch.Ready()
}

func (s *Service) Status() Status {
	s.mu.Lock()
	build := s.status
	s.mu.Unlock()
	return Status{
		Ready:    s.orch.Ready(),
		Sections: s.Sections(),
		Docs:     len(s.docs.Load().docs),
		Corpus:   s.source.String(),
		Build:    build,
	}
}

// InvalidateCache drops every query cache entry.
func (s *Service) InvalidateCache(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Clear(ctx)
}

// WatchCorpus rebuilds whenever the corpus file changes. It blocks until ctx
// is done and returns immediately for remote corpora.
func (s *Service) WatchCorpus(ctx context.Context) error {
	path := s.cfg.Corpus.Path
	if path == "" {
		s.logger.Info("corpus is remote, file watch disabled")
		return nil
	}
	return corpus.Watch(ctx, path, watchDebounce, func() {
		s.logger.Info("corpus changed, rebuilding", "path", path)
		if _, err := s.Rebuild(ctx, false); err != nil {
			s.logger.Error("rebuild after corpus change failed", "error", err)
		}
	})
}

// Close stops the query worker, which fails any in-flight query, then waits
// for pending cache writes.
func (s *Service) Close() error {
	err := s.orch.Close()
	s.bg.Wait()
	return err
}

func (s *Service) setDocs(docs []proto.Document) {
	s.docs.Store(&docIndex{docs: docs, byURL: corpus.ByURL(docs)})
	s.metrics.SetCorpusSize(len(docs))
}

func (s *Service) setStatus(update func(*BuildStatus)) BuildStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.status)
	return s.status
}

// scope normalizes tabs: nil means the global index.
func scope(tabs []string) []string {
	for _, t := range tabs {
		if t == proto.AllSections {
			return nil
		}
	}
	if len(tabs) == 0 {
		return nil
	}
	return tabs
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrCanceled):
		return "canceled"
	case errors.Is(err, apperrors.ErrNotReady):
		return "not_ready"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
