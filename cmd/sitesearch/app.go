package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/events"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/querycache"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/metrics"
)

// app is the storage, cache and service shared by every command.
type app struct {
	cfg     *config.Config
	store   kvstore.Store
	cache   *querycache.Cache
	metrics *metrics.Metrics
	svc     *orchestrator.Service
}

type appOptions struct {
	publisher events.Publisher
	trackers  []analytics.Tracker
	metrics   *metrics.Metrics
}

func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	store, err := kvstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Driver, err)
	}
	slog.Info("storage opened", "driver", cfg.Storage.Driver)

	// one-shot commands run without metrics; the collectors are nil-safe
	m := opts.metrics
	a := &app{cfg: cfg, store: store, metrics: m}
	if cfg.QueryCache.Enabled {
		a.cache = querycache.New(store, cfg.QueryCache, m)
		slog.Info("query cache enabled", "max_entries", cfg.QueryCache.MaxEntries, "max_age", cfg.QueryCache.MaxAge)
	}

	a.svc = orchestrator.NewService(cfg, orchestrator.Deps{
		Store:     store,
		Source:    corpus.NewSource(cfg.Corpus),
		Cache:     a.cache,
		Publisher: opts.publisher,
		Tracker:   analytics.Multi(opts.trackers...),
		Metrics:   m,
	})
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.svc.Close(), a.store.Close())
}
