// Package config is the service configuration: built-in defaults, then an
// optional YAML file, then SS_* environment variables, then validation.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Storage    StorageConfig    `yaml:"storage"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Search     SearchConfig     `yaml:"search"`
	QueryCache QueryCacheConfig `yaml:"queryCache"`
	Workers    WorkersConfig    `yaml:"workers"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig is the public HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	// AdminKeys guard the rebuild and cache invalidation endpoints. They are
	// open when the list is empty.
	AdminKeys   []string `yaml:"adminKeys"`
	RateLimit   int      `yaml:"rateLimit"` // requests per minute per client, 0 disables
	CORSOrigins []string `yaml:"corsOrigins"`
}

// CorpusConfig points at the raw document corpus. Exactly one of Path or URL
// is expected; Path wins when both are set.
type CorpusConfig struct {
	Path         string        `yaml:"path"`
	URL          string        `yaml:"url"`
	Watch        bool          `yaml:"watch"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	FetchRetries int           `yaml:"fetchRetries"`
}

// StorageConfig selects the persistent key-value backend.
type StorageConfig struct {
	// Driver is one of "bolt", "redis", "postgres" or "memory".
	Driver   string `yaml:"driver"`
	BoltPath string `yaml:"boltPath"`
	Bucket   string `yaml:"bucket"`
	Table    string `yaml:"table"`
}

// PostgresConfig is used when storage.driver is "postgres".
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN is the lib/pq keyword/value connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"poolSize"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// KafkaConfig holds Kafka broker and topic settings. Events are only
// produced and consumed when Enabled is set.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

type KafkaTopics struct {
	IndexComplete   string `yaml:"indexComplete"`
	CacheInvalidate string `yaml:"cacheInvalidate"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// SearchConfig controls query limits.
type SearchConfig struct {
	ResultLimit    int `yaml:"resultLimit"`
	MaxResults     int `yaml:"maxResults"`
	MinQueryLength int `yaml:"minQueryLength"`
	SnippetLength  int `yaml:"snippetLength"`
	SnippetContext int `yaml:"snippetContext"`
}

// QueryCacheConfig controls the expiring query-result cache.
type QueryCacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Namespace  string        `yaml:"namespace"`
	MaxEntries int           `yaml:"maxEntries"`
	MaxAge     time.Duration `yaml:"maxAge"`
}

// WorkersConfig controls the build and query workers.
type WorkersConfig struct {
	WorkDir       string        `yaml:"workDir"`
	SafetyTimeout time.Duration `yaml:"safetyTimeout"`
	QueueSize     int           `yaml:"queueSize"`
}

// LoggingConfig picks the slog level (debug, info, warn, error) and format (json or text).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig is the separate Prometheus scrape listener.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load layers path (optional) and the environment over Default. Unknown YAML
// keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// Default is a working local setup: bolt storage, caching on, Kafka off.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			RateLimit:       600,
			CORSOrigins:     []string{"*"},
		},
		Corpus: CorpusConfig{
			Path:         "public/index.json",
			FetchTimeout: 30 * time.Second,
			FetchRetries: 3,
		},
		Storage: StorageConfig{
			Driver:   "bolt",
			BoltPath: "data/sitesearch.db",
			Bucket:   "indexes",
			Table:    "sitesearch_kv",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "sitesearch",
			User:            "sitesearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "sitesearch:",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "sitesearch",
			Topics: KafkaTopics{
				IndexComplete:   "index.complete",
				CacheInvalidate: "cache-invalidate",
				AnalyticsEvents: "analytics-events",
			},
		},
		Search: SearchConfig{
			ResultLimit:    50,
			MaxResults:     200,
			MinQueryLength: 2,
			SnippetLength:  200,
			SnippetContext: 40,
		},
		QueryCache: QueryCacheConfig{
			Enabled:    true,
			Namespace:  "search-query-cache-v1",
			MaxEntries: 100,
			MaxAge:     24 * time.Hour,
		},
		Workers: WorkersConfig{
			WorkDir:       os.TempDir(),
			SafetyTimeout: 5 * time.Minute,
			QueueSize:     64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "bolt", "redis", "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Corpus.Path == "" && c.Corpus.URL == "" {
		return fmt.Errorf("corpus path or url is required")
	}
	if c.Search.ResultLimit <= 0 {
		return fmt.Errorf("search.resultLimit must be positive")
	}
	if c.QueryCache.MaxEntries <= 0 {
		return fmt.Errorf("queryCache.maxEntries must be positive")
	}
	return nil
}
