package kvstore

import (
	"context"
	"fmt"
	"sort"

	pkgredis "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/redis"
)

// Redis keeps values without TTL; the query cache does its own expiry.
type Redis struct {
	client *pkgredis.Client
}

func NewRedis(client *pkgredis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok, err := r.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	if !ok {
		return nil, notFound(key)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Put(ctx, key, value); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Delete(ctx, key)
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.client.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx) }
func (r *Redis) Close() error                   { return r.client.Close() }
