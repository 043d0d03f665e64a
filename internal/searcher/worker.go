// Package searcher runs the query worker: a goroutine that owns the hydrated
// indexes and the corpus snapshot and answers hydrate and query requests in
// arrival order.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/textmatch"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// DefaultLimit caps results when a query does not set one.
const DefaultLimit = 50

type state struct {
	global    *indexer.Index
	bySection map[string]*indexer.Index
	sections  []string
	docs      []proto.Document
	docsByURL map[string]proto.Document
}

func (s *state) close() {
	if s == nil {
		return
	}
	if s.global != nil {
		s.global.Close()
	}
	for _, idx := range s.bySection {
		idx.Close()
	}
}

// QueryWorker is only touched by its own goroutine once started.
type QueryWorker struct {
	in      chan proto.Request
	out     chan proto.Response
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	store   kvstore.Store
	workDir string
	exec    *executor.Executor
	fanout  *executor.SectionExecutor
	logger  *slog.Logger

	st *state
}

func NewQueryWorker(store kvstore.Store, cfg config.WorkersConfig) *QueryWorker {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	exec := executor.New()
	w := &QueryWorker{
		in:      make(chan proto.Request, size),
		out:     make(chan proto.Response, size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		store:   store,
		workDir: cfg.WorkDir,
		exec:    exec,
		fanout:  executor.NewSectioned(exec),
		logger:  slog.Default().With("component", "query-worker"),
	}
	go w.run()
	return w
}

// Post queues req. Requests are handled strictly in the order posted.
func (w *QueryWorker) Post(ctx context.Context, req proto.Request) error {
	select {
	case <-w.done:
		return fmt.Errorf("query worker: %w", apperrors.ErrUnavailable)
	default:
	}
	select {
	case w.in <- req:
		return nil
	case <-w.done:
		return fmt.Errorf("query worker: %w", apperrors.ErrUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *QueryWorker) Responses() <-chan proto.Response { return w.out }

// Close stops the worker and releases its indexes.
func (w *QueryWorker) Close() error {
	w.once.Do(func() { close(w.quit) })
	<-w.done
	return nil
}

func (w *QueryWorker) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		w.st.close()
		close(w.out)
		close(w.done)
	}()
	for {
		select {
		case <-w.quit:
			return
		case req := <-w.in:
			resp := w.handle(ctx, req)
			resp.ID = req.ID
			select {
			case w.out <- resp:
			case <-w.quit:
				return
			}
		}
	}
}

func (w *QueryWorker) handle(ctx context.Context, req proto.Request) proto.Response {
	switch req.Type {
	case proto.TypeHydrate:
		if req.Indices == nil {
			return errorResponse(proto.CodeInvalid, errors.New("invalid hydrate payload: indices missing"))
		}
		return w.hydrate(req.Indices, req.Sections, req.Docs)
	case proto.TypeLoadCachedIndices:
		return w.loadCached(ctx, req.Fingerprint)
	case proto.TypeQuery:
		if req.Query == nil {
			return errorResponse(proto.CodeInvalid, errors.New("invalid query payload"))
		}
		results, err := w.query(ctx, *req.Query)
		if err != nil {
			code := proto.CodeInternal
			if errors.Is(err, apperrors.ErrNotReady) {
				code = proto.CodeNotReady
			}
			return errorResponse(code, err)
		}
		return proto.Response{Type: proto.TypeQueryResult, Results: results}
	default:
		return errorResponse(proto.CodeInvalid, fmt.Errorf("query worker cannot handle %q", req.Type))
	}
}

func errorResponse(code proto.ErrorCode, err error) proto.Response {
	return proto.Response{Type: proto.TypeError, Code: code, Error: err.Error()}
}

func (w *QueryWorker) hydrate(ind *proto.Indices, sections []string, docs []proto.Document) proto.Response {
	start := time.Now()
	next := &state{
		bySection: make(map[string]*indexer.Index, len(ind.BySection)),
		docs:      docs,
		docsByURL: corpus.ByURL(docs),
	}
	var err error
	next.global, err = indexer.Open(ind.All, w.workDir)
	if err != nil {
		return errorResponse(proto.CodeInternal, fmt.Errorf("hydrating global index: %w", err))
	}
	for name, art := range ind.BySection {
		idx, err := indexer.Open(art, w.workDir)
		if err != nil {
			next.close()
			return errorResponse(proto.CodeInternal, fmt.Errorf("hydrating section %s: %w", name, err))
		}
		next.bySection[name] = idx
	}
	if sections == nil {
		sections = make([]string, 0, len(next.bySection))
		for name := range next.bySection {
			sections = append(sections, name)
		}
		sort.Strings(sections)
	}
	next.sections = sections

	w.st.close()
	w.st = next
	w.logger.Info("indexes hydrated",
		"sections", len(sections),
		"docs", len(docs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return proto.Response{Type: proto.TypeReady, Sections: sections}
}

// loadCached hydrates from the persisted artifacts. A non-empty fingerprint
// must match the manifest written with them.
func (w *QueryWorker) loadCached(ctx context.Context, fingerprint string) proto.Response {
	all, err := w.store.Get(ctx, kvstore.KeyIndexAll)
	if err != nil || len(all) == 0 {
		if err != nil && !kvstore.IsNotFound(err) {
			w.logger.Warn("reading cached global index failed", "error", err)
		}
		return errorResponse(proto.CodeNoCachedIndices, apperrors.ErrNoCachedIndices)
	}
	if fingerprint != "" {
		m, err := indexer.LoadManifest(ctx, w.store)
		if err != nil {
			return errorResponse(proto.CodeStaleIndices, fmt.Errorf("manifest unreadable: %w", err))
		}
		if m.Fingerprint != fingerprint {
			return errorResponse(proto.CodeStaleIndices, fmt.Errorf("built from %.12s, want %.12s", m.Fingerprint, fingerprint))
		}
	}

	ind := &proto.Indices{All: all, BySection: map[string][]byte{}}
	if data, err := w.store.Get(ctx, kvstore.KeyBySection); err == nil {
		if err := corpus.DecodeMsgpack(data, &ind.BySection); err != nil {
			return errorResponse(proto.CodeInternal, fmt.Errorf("decoding section indexes: %w", err))
		}
	} else if !kvstore.IsNotFound(err) {
		return errorResponse(proto.CodeInternal, err)
	}

	var sections []string
	if err := kvstore.GetJSON(ctx, w.store, kvstore.KeySections, &sections); err != nil && !kvstore.IsNotFound(err) {
		w.logger.Warn("cached section list unreadable", "error", err)
	}

	var docs []proto.Document
	if data, err := w.store.Get(ctx, kvstore.KeyDocs); err == nil {
		if err := corpus.DecodeMsgpack(data, &docs); err != nil {
			return errorResponse(proto.CodeInternal, fmt.Errorf("decoding cached docs: %w", err))
		}
	} else if !kvstore.IsNotFound(err) {
		return errorResponse(proto.CodeInternal, err)
	}

	return w.hydrate(ind, sections, docs)
}

func (w *QueryWorker) query(ctx context.Context, p proto.QueryParams) ([]proto.ResultEntry, error) {
	if w.st == nil || w.st.global == nil {
		return nil, apperrors.ErrNotReady
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := executor.BuildQuery(executor.Words(p.Terms), p.Tags, p.Options.ExactMatch)
	if q == nil {
		return []proto.ResultEntry{}, nil
	}

	var ranked []proto.ResultEntry
	if scopeIsGlobal(p.Tabs) {
		r, err := w.exec.Execute(ctx, w.st.global.Index, q)
		if err != nil {
			return nil, err
		}
		ranked = merger.Dedup(r, 0)
	} else {
		indexes := make(map[string]bleve.Index, len(p.Tabs))
		for _, tab := range p.Tabs {
			if idx, ok := w.st.bySection[tab]; ok {
				indexes[tab] = idx.Index
			}
		}
		lists, err := w.fanout.FanOut(ctx, indexes, p.Tabs, q)
		if err != nil {
			return nil, err
		}
		ranked = merger.Merge(lists, 0)
	}

	out := make([]proto.ResultEntry, 0, min(limit, len(ranked)))
	for _, r := range ranked {
		if len(out) == limit {
			break
		}
		if needsLiteralCheck(p) {
			doc, ok := w.st.docsByURL[r.Ref]
			if !ok || !textmatch.Accept(doc, p.Terms, p.Phrases, p.Options) {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func scopeIsGlobal(tabs []string) bool {
	if len(tabs) == 0 {
		return true
	}
	for _, t := range tabs {
		if t == proto.AllSections {
			return true
		}
	}
	return false
}

func needsLiteralCheck(p proto.QueryParams) bool {
	if p.Options.CaseSensitive {
		return true
	}
	for _, ph := range p.Phrases {
		if ph {
			return true
		}
	}
	return false
}
