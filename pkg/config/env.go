package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type binding struct {
	name  string
	apply func(c *Config, v string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *field(c) = v; return nil }
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func list(field func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*field(c) = out
		return nil
	}
}

var bindings = []binding{
	{"SS_SERVER_PORT", integer(func(c *Config) *int { return &c.Server.Port })},
	{"SS_REQUEST_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Server.RequestTimeout })},
	{"SS_ADMIN_KEYS", list(func(c *Config) *[]string { return &c.Server.AdminKeys })},
	{"SS_RATE_LIMIT", integer(func(c *Config) *int { return &c.Server.RateLimit })},
	{"SS_CORS_ORIGINS", list(func(c *Config) *[]string { return &c.Server.CORSOrigins })},
	{"SS_CORPUS_PATH", str(func(c *Config) *string { return &c.Corpus.Path })},
	{"SS_CORPUS_URL", func(c *Config, v string) error {
		c.Corpus.URL = v
		// a URL from the environment beats a file path from defaults or YAML
		c.Corpus.Path = ""
		return nil
	}},
	{"SS_CORPUS_WATCH", boolean(func(c *Config) *bool { return &c.Corpus.Watch })},
	{"SS_STORAGE_DRIVER", str(func(c *Config) *string { return &c.Storage.Driver })},
	{"SS_STORAGE_BOLT_PATH", str(func(c *Config) *string { return &c.Storage.BoltPath })},
	{"SS_POSTGRES_HOST", str(func(c *Config) *string { return &c.Postgres.Host })},
	{"SS_POSTGRES_PORT", integer(func(c *Config) *int { return &c.Postgres.Port })},
	{"SS_POSTGRES_DATABASE", str(func(c *Config) *string { return &c.Postgres.Database })},
	{"SS_POSTGRES_USER", str(func(c *Config) *string { return &c.Postgres.User })},
	{"SS_POSTGRES_PASSWORD", str(func(c *Config) *string { return &c.Postgres.Password })},
	{"SS_REDIS_ADDR", str(func(c *Config) *string { return &c.Redis.Addr })},
	{"SS_REDIS_PASSWORD", str(func(c *Config) *string { return &c.Redis.Password })},
	{"SS_KAFKA_ENABLED", boolean(func(c *Config) *bool { return &c.Kafka.Enabled })},
	{"SS_KAFKA_BROKERS", list(func(c *Config) *[]string { return &c.Kafka.Brokers })},
	{"SS_QUERY_CACHE_ENABLED", boolean(func(c *Config) *bool { return &c.QueryCache.Enabled })},
	{"SS_WORKERS_DIR", str(func(c *Config) *string { return &c.Workers.WorkDir })},
	{"SS_LOGGING_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"SS_LOGGING_FORMAT", str(func(c *Config) *string { return &c.Logging.Format })},
	{"SS_METRICS_ENABLED", boolean(func(c *Config) *bool { return &c.Metrics.Enabled })},
}

// applyEnv runs every binding whose variable is set. SS_CORPUS_URL runs
// before SS_CORPUS_PATH so that setting both keeps the path.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	apply := func(b binding) error {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			return nil
		}
		if err := b.apply(c, v); err != nil {
			return fmt.Errorf("%s=%q: %w", b.name, v, err)
		}
		return nil
	}
	for _, b := range bindings {
		if b.name == "SS_CORPUS_URL" {
			if err := apply(b); err != nil {
				return err
			}
		}
	}
	for _, b := range bindings {
		if b.name == "SS_CORPUS_URL" {
			continue
		}
		if err := apply(b); err != nil {
			return err
		}
	}
	return nil
}
