// Package events publishes index lifecycle events and reacts to cache
// invalidation requests over Kafka.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/kafka"
)

// IndexComplete is published after a build has been hydrated.
type IndexComplete struct {
	Fingerprint string    `json:"fingerprint"`
	Docs        int       `json:"docs"`
	Sections    []string  `json:"sections"`
	DurationMs  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// CacheInvalidate asks every instance to drop its query cache.
type CacheInvalidate struct {
	Reason string `json:"reason"`
	Origin string `json:"origin,omitempty"`
}

// Publisher announces finished builds.
type Publisher interface {
	IndexComplete(ctx context.Context, ev IndexComplete) error
}

// Sender is the part of kafka.Producer used for single events.
type Sender interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type KafkaPublisher struct {
	sender Sender
	logger *slog.Logger
}

func NewKafkaPublisher(sender Sender) *KafkaPublisher {
	return &KafkaPublisher{
		sender: sender,
		logger: slog.Default().With("component", "event-publisher"),
	}
}

func (p *KafkaPublisher) IndexComplete(ctx context.Context, ev IndexComplete) error {
	if err := p.sender.Publish(ctx, kafka.Event{Key: ev.Fingerprint, Type: "index.complete", Value: ev}); err != nil {
		return err
	}
	p.logger.Info("index.complete published", "fingerprint", ev.Fingerprint, "docs", ev.Docs)
	return nil
}

// Nop drops every event. It is used when Kafka is disabled.
type Nop struct{}

func (Nop) IndexComplete(context.Context, IndexComplete) error { return nil }

// Clearer empties the query cache and reports how many entries it removed.
type Clearer interface {
	Clear(ctx context.Context) (int, error)
}

// InvalidationHandler clears the query cache for every CacheInvalidate
// message. Undecodable messages are logged and skipped so they are not
// redelivered forever.
func InvalidationHandler(c Clearer) kafka.MessageHandler {
	logger := slog.Default().With("component", "cache-invalidation")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[CacheInvalidate](value)
		if err != nil {
			logger.Error("failed to decode invalidation", "error", err, "key", string(key))
			return nil
		}
		n, err := c.Clear(ctx)
		if err != nil {
			return err
		}
		logger.Info("query cache invalidated", "reason", ev.Reason, "origin", ev.Origin, "removed", n)
		return nil
	}
}
