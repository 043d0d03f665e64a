// Package indexer builds the global and per-section bleve indexes for a
// corpus on a dedicated build worker and persists them as artifacts.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/tracing"
)

// BuildWorker runs one build on its own goroutine. It accepts a single build
// request, streams progress on Responses, and exits after the terminal event;
// Responses is closed when it does. A new worker is needed for every build.
type BuildWorker struct {
	in      chan proto.Request
	out     chan proto.Response
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	store   kvstore.Store
	workDir string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewBuildWorker(store kvstore.Store, cfg config.WorkersConfig, m *metrics.Metrics) *BuildWorker {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	w := &BuildWorker{
		in:      make(chan proto.Request, 1),
		out:     make(chan proto.Response, size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		store:   store,
		workDir: cfg.WorkDir,
		metrics: m,
		logger:  slog.Default().With("component", "build-worker"),
	}
	go w.run()
	return w
}

// Post queues req for the worker. It fails once the worker has exited.
func (w *BuildWorker) Post(ctx context.Context, req proto.Request) error {
	select {
	case <-w.done:
		return fmt.Errorf("build worker: %w", apperrors.ErrUnavailable)
	default:
	}
	select {
	case w.in <- req:
		return nil
	case <-w.done:
		return fmt.Errorf("build worker: %w", apperrors.ErrUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *BuildWorker) Responses() <-chan proto.Response { return w.out }

// Close stops the worker. An in-flight build finishes its current index but
// emits nothing further.
func (w *BuildWorker) Close() error {
	w.once.Do(func() { close(w.quit) })
	<-w.done
	return nil
}

func (w *BuildWorker) run() {
	defer close(w.done)
	defer close(w.out)
	select {
	case req := <-w.in:
		if req.Type != proto.TypeBuild {
			w.emit(proto.Response{Type: proto.TypeError, ID: req.ID, Error: fmt.Sprintf("build worker cannot handle %q", req.Type)})
			return
		}
		w.build(req)
	case <-w.quit:
	}
}

func (w *BuildWorker) emit(r proto.Response) bool {
	select {
	case w.out <- r:
		return true
	case <-w.quit:
		return false
	}
}

func (w *BuildWorker) step(id int64, step, msg string) bool {
	return w.emit(proto.Response{Type: proto.TypeBuildStep, ID: id, Step: step, Message: msg})
}

func (w *BuildWorker) fail(span *tracing.Span, id int64, start time.Time, err error) {
	span.Fail(err)
	w.logger.Error("build failed", "error", err)
	w.metrics.ObserveBuild("error", time.Since(start))
	w.emit(proto.Response{Type: proto.TypeError, ID: id, Error: err.Error()})
}

func (w *BuildWorker) build(req proto.Request) {
	start := time.Now()
	ctx, span := tracing.Start(context.Background(), "index.build")
	defer span.End()

	if req.Docs == nil {
		w.fail(span, req.ID, start, errors.New("invalid build payload: docs missing"))
		return
	}
	docs := req.Docs
	if !w.step(req.ID, "parsing", fmt.Sprintf("Parsing %d documents", len(docs))) {
		return
	}

	sections := corpus.Sections(docs)
	total := 1 + len(sections)
	span.Set("docs", len(docs))
	span.Set("sections", len(sections))
	if !w.step(req.ID, "preparing", fmt.Sprintf("Preparing %d indexes", total)) {
		return
	}

	im, err := NewMapping()
	if err != nil {
		w.fail(span, req.ID, start, err)
		return
	}
	scratch, err := os.MkdirTemp(w.workDir, "sitesearch-build-*")
	if err != nil {
		w.fail(span, req.ID, start, fmt.Errorf("creating build dir: %w", err))
		return
	}
	defer os.RemoveAll(scratch)

	if !w.step(req.ID, "building_all", "Building global index") {
		return
	}
	indices := &proto.Indices{BySection: make(map[string][]byte, len(sections))}
	indices.All, err = w.buildOne(ctx, im, scratch, proto.AllSections, docs)
	if err != nil {
		w.fail(span, req.ID, start, err)
		return
	}
	if !w.progress(req.ID, proto.AllSections, 1, total, len(docs)) {
		return
	}

	for i, s := range sections {
		subset := corpus.BySection(docs, s)
		art, err := w.buildOne(ctx, im, scratch, s, subset)
		if err != nil {
			w.fail(span, req.ID, start, err)
			return
		}
		indices.BySection[s] = art
		if !w.progress(req.ID, s, i+2, total, len(subset)) {
			return
		}
	}

	w.persist(ctx, req.Fingerprint, docs, sections, indices)

	w.metrics.ObserveBuild("success", time.Since(start))
	w.logger.Info("build complete",
		"docs", len(docs),
		"indexes", total,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	w.emit(proto.Response{
		Type:     proto.TypeBuilt,
		ID:       req.ID,
		Docs:     docs,
		Sections: sections,
		Indices:  indices,
	})
}

func (w *BuildWorker) progress(id int64, section string, completed, total, docs int) bool {
	return w.emit(proto.Response{
		Type:     proto.TypeSectionBuilt,
		ID:       id,
		Section:  section,
		Progress: &proto.Progress{Completed: completed, Total: total},
		Message:  fmt.Sprintf("Indexed %s (%d documents)", section, docs),
	})
}

// buildOne indexes docs into a fresh on-disk index and returns its artifact.
func (w *BuildWorker) buildOne(ctx context.Context, im mapping.IndexMapping, scratch, name string, docs []proto.Document) (_ []byte, err error) {
	_, span := tracing.Start(ctx, "index.build."+name)
	defer func() {
		span.Fail(err)
		span.End()
	}()

	dir, err := os.MkdirTemp(scratch, "idx-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "index")

	idx, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("creating %s index: %w", name, err)
	}
	batch := idx.NewBatch()
	indexed := 0
	for _, d := range docs {
		if d.URL == "" {
			continue
		}
		if err := batch.Index(d.URL, toIndexDoc(d)); err != nil {
			idx.Close()
			return nil, fmt.Errorf("indexing %s into %s: %w", d.URL, name, err)
		}
		indexed++
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			idx.Close()
			return nil, fmt.Errorf("committing %s index: %w", name, err)
		}
	}
	if err := idx.Close(); err != nil {
		return nil, fmt.Errorf("closing %s index: %w", name, err)
	}

	art, err := Pack(path)
	if err != nil {
		return nil, err
	}
	span.Set("docs", indexed)
	span.Set("bytes", len(art))
	w.metrics.IndexBuilt()
	return art, nil
}

// persist writes the artifacts and their manifest. Failures are logged only;
// the build result is still delivered to the caller.
func (w *BuildWorker) persist(ctx context.Context, fingerprint string, docs []proto.Document, sections []string, indices *proto.Indices) {
	_, span := tracing.Start(ctx, "index.persist")
	defer span.End()

	if err := w.store.Set(ctx, kvstore.KeyIndexAll, indices.All); err != nil {
		w.logger.Warn("persisting global index failed", "error", err)
		return
	}
	if data, err := corpus.EncodeMsgpack(indices.BySection); err != nil {
		w.logger.Warn("encoding section indexes failed", "error", err)
	} else if err := w.store.Set(ctx, kvstore.KeyBySection, data); err != nil {
		w.logger.Warn("persisting section indexes failed", "error", err)
	}
	if err := kvstore.SetJSON(ctx, w.store, kvstore.KeySections, sections); err != nil {
		w.logger.Warn("persisting sections failed", "error", err)
	}
	if data, err := corpus.EncodeMsgpack(docs); err != nil {
		w.logger.Warn("encoding docs failed", "error", err)
	} else if err := w.store.Set(ctx, kvstore.KeyDocs, data); err != nil {
		w.logger.Warn("persisting docs failed", "error", err)
	}
	manifest := Manifest{
		Fingerprint: fingerprint,
		Sections:    sections,
		DocCount:    len(docs),
		BuiltAt:     time.Now().UTC(),
	}
	if err := kvstore.SetJSON(ctx, w.store, kvstore.KeyManifest, manifest); err != nil {
		w.logger.Warn("persisting manifest failed", "error", err)
	}
}
