// Package redis is the go-redis connection behind the redis storage driver.
// Every key it touches lives under one namespace prefix.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
)

const scanBatch = 256

type Client struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewClient connects using cfg and fails unless the server answers PING
// within five seconds.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{cfg.Addr},
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// Get returns the value at key. ok is false when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	value, err = c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stores value at key without expiry.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	return c.rdb.Set(ctx, c.prefix+key, value, 0).Err()
}

// Delete unlinks keys; missing keys are ignored.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	return c.rdb.Unlink(ctx, full...).Err()
}

// Keys lists keys that start with prefix, without the namespace.
func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := c.scan(ctx, prefix, func(batch []string) error {
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, c.prefix))
		}
		return nil
	})
	return keys, err
}

// DeletePrefix removes every key under prefix and returns how many were
// removed.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := c.scan(ctx, prefix, func(batch []string) error {
		removed, err := c.rdb.Unlink(ctx, batch...).Result()
		n += removed
		return err
	})
	return n, err
}

// scan walks full key names under prefix in batches.
func (c *Client) scan(ctx context.Context, prefix string, fn func([]string) error) error {
	match := globEscape(c.prefix+prefix) + "*"
	it := c.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for it.Next(ctx) {
		batch = append(batch, it.Val())
		if len(batch) == scanBatch {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", match, err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }
func (c *Client) Close() error                   { return c.rdb.Close() }

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string { return globReplacer.Replace(s) }
