package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
)

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(kvstore.NewMemory())

	got, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	agg := analytics.NewAggregator()
	agg.Track(analytics.SearchEvent{Query: "go", Source: "worker", Returned: 1})
	require.NoError(t, s.SaveSnapshot(ctx, agg.Stats()))

	fresh := analytics.NewAggregator()
	s.Restore(ctx, fresh)
	assert.EqualValues(t, 1, fresh.Stats().TotalSearches)
	assert.EqualValues(t, 1, fresh.Stats().BySource["worker"])
}

func TestStore_RunSavesOnShutdown(t *testing.T) {
	kv := kvstore.NewMemory()
	s := NewStore(kv)
	agg := analytics.NewAggregator()
	agg.Track(analytics.SearchEvent{Query: "go", Source: "cache", CacheHit: true, Returned: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, agg, time.Hour)
	}()
	cancel()
	<-done

	got, err := NewStore(kv).LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, got.CacheHits)
}

func TestStore_IgnoresOtherVersions(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	require.NoError(t, kvstore.SetJSON(ctx, kv, snapshotKey, snapshot{Version: 99}))

	got, err := NewStore(kv).LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}
