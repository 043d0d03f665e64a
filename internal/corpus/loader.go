package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// Snapshot is a loaded corpus.
type Snapshot struct {
	Docs      []proto.Document
	Meta      Meta
	FromCache bool
	// Raw holds the fetched bytes when the snapshot came straight from the
	// source, so callers can fingerprint it without a second fetch.
	Raw []byte
}

// Loader resolves the corpus from memory, then the store, then the source.
// It owns the in-memory copy for the lifetime of the service.
type Loader struct {
	store  kvstore.Store
	source Source
	logger *slog.Logger

	mu      sync.RWMutex
	current *Snapshot
}

func NewLoader(store kvstore.Store, source Source) *Loader {
	return &Loader{
		store:  store,
		source: source,
		logger: slog.Default().With("component", "corpus-loader", "source", source.String()),
	}
}

// Load returns the corpus from the fastest tier that has it.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	if s := l.Current(); s != nil {
		l.logger.Debug("corpus from memory", "docs", len(s.Docs))
		return &Snapshot{Docs: s.Docs, Meta: s.Meta, FromCache: true}, nil
	}

	if s, err := l.loadStored(ctx); err != nil {
		l.logger.Warn("stored corpus unreadable", "error", err)
	} else if s != nil {
		l.logger.Info("corpus from store", "docs", len(s.Docs))
		l.set(s)
		return s, nil
	}

	raw, docs, err := l.Fresh(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Docs: docs, Meta: raw.Meta, Raw: raw.Data}, nil
}

// Fresh fetches the corpus from the source, bypassing every cache, and
// replaces the memory and stored copies with it. The raw bytes are returned
// for fingerprinting.
func (l *Loader) Fresh(ctx context.Context) (Raw, []proto.Document, error) {
	raw, err := l.source.Fetch(ctx)
	if err != nil {
		return Raw{}, nil, err
	}
	docs, err := Parse(raw.Data)
	if err != nil {
		return Raw{}, nil, err
	}
	l.set(&Snapshot{Docs: docs, Meta: raw.Meta})
	if err := l.save(ctx, docs, raw.Meta); err != nil {
		l.logger.Warn("corpus snapshot not saved", "error", err)
	}
	l.logger.Info("corpus from source", "docs", len(docs), "bytes", len(raw.Data))
	return raw, docs, nil
}

// Current returns the in-memory snapshot, or nil before the first load.
func (l *Loader) Current() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

func (l *Loader) set(s *Snapshot) {
	l.mu.Lock()
	l.current = &Snapshot{Docs: s.Docs, Meta: s.Meta}
	l.mu.Unlock()
}

func (l *Loader) loadStored(ctx context.Context) (*Snapshot, error) {
	data, err := l.store.Get(ctx, kvstore.KeyCorpus)
	if kvstore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var docs []proto.Document
	if err := DecodeMsgpack(data, &docs); err != nil {
		return nil, err
	}
	var meta Meta
	if err := kvstore.GetJSON(ctx, l.store, kvstore.KeyCorpusMeta, &meta); err != nil && !kvstore.IsNotFound(err) {
		l.logger.Debug("corpus meta unreadable", "error", err)
	}
	return &Snapshot{Docs: docs, Meta: meta, FromCache: true}, nil
}

func (l *Loader) save(ctx context.Context, docs []proto.Document, meta Meta) error {
	data, err := EncodeMsgpack(docs)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, kvstore.KeyCorpus, data); err != nil {
		return fmt.Errorf("saving corpus: %w", err)
	}
	return kvstore.SetJSON(ctx, l.store, kvstore.KeyCorpusMeta, meta)
}
