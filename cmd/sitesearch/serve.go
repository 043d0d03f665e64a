package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/events"
	gwmw "github.com/Adithya-Monish-Kumar-K/sitesearch/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/metrics"
)

const snapshotInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search API",
	Long: `Start the HTTP search API. Cached indexes are served as soon as they
load; a build runs in the background when the corpus has changed.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	slog.Info("starting sitesearch", "version", version, "port", cfg.Server.Port)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, fmt.Sprintf(":%d", cfg.Metrics.Port), nil); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	agg := analytics.NewAggregator()
	trackers := []analytics.Tracker{agg}
	var publisher events.Publisher = events.Nop{}

	var batches *collector.BatchCollector
	var producers []*kafka.Producer
	if cfg.Kafka.Enabled {
		indexProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		producers = append(producers, indexProducer, analyticsProducer)
		publisher = events.NewKafkaPublisher(indexProducer)

		batches = collector.NewBatchCollector(analyticsProducer, 100, 5*time.Second)
		batches.Start(ctx)
		trackers = append(trackers, batches)
		slog.Info("kafka events enabled", "brokers", cfg.Kafka.Brokers)
	}
	defer func() {
		cancel()
		if batches != nil {
			batches.Close()
		}
		for _, p := range producers {
			if err := p.Close(); err != nil {
				slog.Error("closing kafka producer", "topic", p.Topic(), "error", err)
			}
		}
	}()

	a, err := openApp(ctx, cfg, appOptions{publisher: publisher, trackers: trackers, metrics: m})
	if err != nil {
		return err
	}
	defer a.Close()

	snapshots := aggregator.NewStore(a.store)
	snapshots.Restore(ctx, agg)
	saved := make(chan struct{})
	go func() {
		defer close(saved)
		snapshots.Run(ctx, agg, snapshotInterval)
	}()
	defer func() {
		cancel()
		<-saved
	}()

	if cfg.Kafka.Enabled && a.cache != nil {
		consumer := kafka.NewBroadcastConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate, events.InvalidationHandler(a.cache))
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("cache invalidation consumer stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := a.svc.Start(ctx); err != nil {
			slog.Error("initial index build failed", "error", err)
		}
	}()
	if cfg.Corpus.Watch {
		go func() {
			if err := a.svc.WatchCorpus(ctx); err != nil {
				slog.Error("corpus watch stopped", "error", err)
			}
		}()
	}

	checker := health.NewChecker()
	checker.Register("query_worker", health.Bool(a.svc.Ready, "indexes not loaded"))
	checker.Register("storage", health.Ping(a.store.Ping, cfg.Storage.Driver))
	checker.RegisterOptional("corpus", func(context.Context) health.ComponentHealth {
		st := a.svc.Status()
		if st.Docs == 0 {
			return health.Degraded("no documents loaded")
		}
		return health.Up(fmt.Sprintf("%d documents", st.Docs))
	})
	if a.cache != nil {
		checker.RegisterOptional("query_cache", func(context.Context) health.ComponentHealth {
			if !a.cache.Healthy() {
				return health.Down("cache storage failing")
			}
			return health.Up("")
		})
	}

	limiter := ratelimit.New(time.Minute)
	defer limiter.Close()

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.New(router.Deps{
			Search:    handler.New(a.svc, a.cache, cfg.Search),
			Analytics: analytics.NewHandler(agg),
			Health:    checker,
			Validator: apikey.NewValidator(cfg.Server.AdminKeys, cfg.Server.RateLimit),
			Limiter:   limiter,
			RateLimit: cfg.Server.RateLimit,
			Timeout:   cfg.Server.RequestTimeout,
			CORS:      gwmw.NewCORSConfig(cfg.Server.CORSOrigins),
			Metrics:   m,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	slog.Info("sitesearch stopped")
	return nil
}
