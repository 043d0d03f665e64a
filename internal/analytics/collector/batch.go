// Package collector exports search analytics to Kafka in batches.
package collector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/kafka"
)

// BatchPublisher is the part of kafka.Producer the collector needs.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// BatchCollector hands search events to one goroutine that publishes them
// when a batch fills or the flush interval passes. Track never blocks the
// search path: when the queue is full the event is dropped and counted.
type BatchCollector struct {
	producer      BatchPublisher
	events        chan analytics.SearchEvent
	batchSize     int
	flushInterval time.Duration
	dropped       atomic.Int64
	logger        *slog.Logger
	done          chan struct{}
}

func NewBatchCollector(producer BatchPublisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		producer:      producer,
		events:        make(chan analytics.SearchEvent, batchSize*4),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start runs the batching loop until ctx is cancelled. Queued events are
// drained and flushed once more on the way out.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()

		pending := make([]kafka.Event, 0, bc.batchSize)
		for {
			select {
			case ev := <-bc.events:
				pending = append(pending, toEvent(ev))
				if len(pending) >= bc.batchSize {
					pending = bc.flush(ctx, pending)
				}
			case <-ticker.C:
				pending = bc.flush(ctx, pending)
			case <-ctx.Done():
				for drained := false; !drained; {
					select {
					case ev := <-bc.events:
						pending = append(pending, toEvent(ev))
					default:
						drained = true
					}
				}
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if rest := bc.flush(flushCtx, pending); len(rest) > 0 {
					bc.logger.Warn("analytics events lost on shutdown", "count", len(rest))
				}
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("analytics collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Track queues ev without blocking.
func (bc *BatchCollector) Track(ev analytics.SearchEvent) {
	select {
	case bc.events <- ev:
	default:
		bc.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the queue or the
// retry buffer was full.
func (bc *BatchCollector) Dropped() int64 { return bc.dropped.Load() }

// Close waits for the loop started by Start to finish.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func toEvent(ev analytics.SearchEvent) kafka.Event {
	return kafka.Event{Key: ev.Source, Type: string(ev.Type), Value: ev}
}

// flush publishes pending and returns what is left to retry. Failed batches
// are kept up to three batch sizes; the oldest events go first.
func (bc *BatchCollector) flush(ctx context.Context, pending []kafka.Event) []kafka.Event {
	if len(pending) == 0 {
		return pending
	}
	if err := bc.producer.PublishBatch(ctx, pending); err != nil {
		bc.logger.Error("batch flush failed", "events", len(pending), "error", err)
		if limit := bc.batchSize * 3; len(pending) > limit {
			over := len(pending) - limit
			bc.dropped.Add(int64(over))
			bc.logger.Warn("retry buffer full, events dropped", "dropped", over)
			pending = append([]kafka.Event(nil), pending[over:]...)
		}
		return pending
	}
	bc.logger.Debug("batch flushed", "events", len(pending))
	return make([]kafka.Event, 0, bc.batchSize)
}
