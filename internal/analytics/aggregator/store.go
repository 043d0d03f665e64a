// Package aggregator keeps analytics counters across restarts by
// snapshotting them into the key-value store.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
)

const (
	snapshotKey     = "analytics_snapshot"
	snapshotVersion = 1
)

type snapshot struct {
	Version    int                       `json:"version"`
	CapturedAt time.Time                 `json:"captured_at"`
	Stats      analytics.AggregatedStats `json:"stats"`
}

type Store struct {
	kv     kvstore.Store
	logger *slog.Logger
	saved  int64
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv, logger: slog.Default().With("component", "analytics-store")}
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	snap := snapshot{Version: snapshotVersion, CapturedAt: time.Now().UTC(), Stats: stats}
	if err := kvstore.SetJSON(ctx, s.kv, snapshotKey, snap); err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.saved = stats.TotalSearches
	return nil
}

// LatestSnapshot returns nil without error when nothing usable is stored.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var snap snapshot
	switch err := kvstore.GetJSON(ctx, s.kv, snapshotKey, &snap); {
	case kvstore.IsNotFound(err):
		return nil, nil
	case err != nil:
		return nil, err
	case snap.Version != snapshotVersion:
		s.logger.Warn("ignoring analytics snapshot", "version", snap.Version)
		return nil, nil
	}
	return &snap.Stats, nil
}

// Restore seeds agg from the stored snapshot, if there is one.
func (s *Store) Restore(ctx context.Context, agg *analytics.Aggregator) {
	stats, err := s.LatestSnapshot(ctx)
	if err != nil {
		s.logger.Warn("analytics snapshot unreadable", "error", err)
		return
	}
	if stats == nil {
		return
	}
	agg.Seed(*stats)
	s.saved = stats.TotalSearches
	s.logger.Info("analytics restored", "total_searches", stats.TotalSearches)
}

// Run snapshots agg every interval while new searches arrive, and once more
// when ctx ends. It returns after that final save.
func (s *Store) Run(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.saveIfChanged(ctx, agg)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			s.saveIfChanged(final, agg)
			cancel()
			return
		}
	}
}

func (s *Store) saveIfChanged(ctx context.Context, agg *analytics.Aggregator) {
	stats := agg.Stats()
	if stats.TotalSearches == s.saved {
		return
	}
	if err := s.SaveSnapshot(ctx, stats); err != nil {
		s.logger.Error("analytics snapshot failed", "error", err)
	}
}
