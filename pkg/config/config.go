// Package config loads client and CLI settings from a YAML file and the
// environment. Environment variables override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/coinmetrics-client/pkg/client"
	"github.com/Sternrassler/coinmetrics-client/pkg/logging"
	"github.com/Sternrassler/coinmetrics-client/pkg/pagination"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvAPIKey    = "CM_API_KEY"
	EnvBaseURL   = "CM_BASE_URL"
	EnvRedisURL  = "REDIS_URL"
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogPretty = "LOG_PRETTY"
)

// Config is the complete configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Cache    CacheConfig    `yaml:"cache"`
	Parallel ParallelConfig `yaml:"parallel"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// APIConfig selects the API and the request rate.
type APIConfig struct {
	// BaseURL defaults to the keyed or community API root, depending on
	// whether APIKey is set.
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	UserAgent string        `yaml:"user_agent"`
	RateLimit float64       `yaml:"rate_limit"`
	RateBurst int           `yaml:"rate_burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RetryConfig bounds retries of failed requests.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	Failures uint32        `yaml:"failures"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig enables the Redis page cache.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// ParallelConfig holds defaults for parallel runs.
type ParallelConfig struct {
	MaxWorkers int `yaml:"max_workers"`
	ChunkSize  int `yaml:"chunk_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig exposes Prometheus metrics over HTTP when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	retry := client.DefaultRetryConfig()
	return Config{
		API: APIConfig{
			Timeout: 60 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:    retry.MaxAttempts,
			InitialBackoff: retry.InitialBackoff,
			MaxBackoff:     retry.MaxBackoff,
		},
		Breaker: BreakerConfig{
			Failures: 5,
			Timeout:  30 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Parallel: ParallelConfig{
			MaxWorkers: pagination.DefaultMaxWorkers,
			ChunkSize:  1,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load reads path, when not empty, over the defaults and applies the
// environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg, rejecting unknown keys.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAPIKey); ok {
		c.API.APIKey = v
	}
	if v, ok := lookup(EnvBaseURL); ok {
		c.API.BaseURL = v
	}
	if v, ok := lookup(EnvRedisURL); ok {
		c.Cache.RedisURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvLogPretty); ok {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogPretty, err)
		}
		c.Log.Pretty = pretty
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must be >= 0 (got %v)", c.API.RateLimit)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts)
	}
	if c.Parallel.MaxWorkers < 1 || c.Parallel.MaxWorkers > pagination.MaxWorkersLimit {
		return fmt.Errorf("parallel.max_workers must be between 1 and %d (got %d)", pagination.MaxWorkersLimit, c.Parallel.MaxWorkers)
	}
	if c.Parallel.ChunkSize < 1 {
		return fmt.Errorf("parallel.chunk_size must be >= 1 (got %d)", c.Parallel.ChunkSize)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Cache.RedisURL != "" {
		if _, err := redis.ParseURL(c.Cache.RedisURL); err != nil {
			return fmt.Errorf("cache.redis_url: %w", err)
		}
	}
	return nil
}

// Client returns the client configuration. redisClient may be nil.
func (c Config) Client(redisClient *redis.Client) client.Config {
	cfg := client.DefaultConfig(c.API.APIKey)
	if c.API.BaseURL != "" {
		cfg.BaseURL = c.API.BaseURL
	}
	if c.API.UserAgent != "" {
		cfg.UserAgent = c.API.UserAgent
	}
	if c.API.RateLimit > 0 {
		cfg.RateLimit = c.API.RateLimit
	}
	if c.API.RateBurst > 0 {
		cfg.RateBurst = c.API.RateBurst
	}
	if c.API.Timeout > 0 {
		cfg.Timeout = c.API.Timeout
	}
	cfg.Retry.MaxAttempts = c.Retry.MaxAttempts
	if c.Retry.InitialBackoff > 0 {
		cfg.Retry.InitialBackoff = c.Retry.InitialBackoff
	}
	if c.Retry.MaxBackoff > 0 {
		cfg.Retry.MaxBackoff = c.Retry.MaxBackoff
	}
	if c.Breaker.Failures > 0 {
		cfg.BreakerFailures = c.Breaker.Failures
	}
	if c.Breaker.Timeout > 0 {
		cfg.BreakerTimeout = c.Breaker.Timeout
	}
	if redisClient != nil {
		cfg.Redis = redisClient
		cfg.CacheTTL = c.Cache.TTL
	}
	return cfg
}

// Redis opens a client for Cache.RedisURL, or returns nil when unset.
func (c Config) Redis() (*redis.Client, error) {
	if c.Cache.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(c.Cache.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.Level(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// ParallelOptions returns the parallel defaults as options.
func (c Config) ParallelOptions() pagination.ParallelOptions {
	opts := pagination.DefaultParallelOptions()
	opts.MaxWorkers = c.Parallel.MaxWorkers
	opts.ChunkSize = c.Parallel.ChunkSize
	return opts
}
