package kvstore

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/redis"
)

// Open returns the backend selected by cfg.Storage.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "bolt":
		return OpenBolt(cfg.Storage.BoltPath, cfg.Storage.Bucket)
	case "redis":
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedis(client), nil
	case "postgres":
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		s, err := NewPostgres(ctx, client, cfg.Storage.Table)
		if err != nil {
			client.Close()
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
