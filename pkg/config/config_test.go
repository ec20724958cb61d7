package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/coinmetrics-client/pkg/client"
	"github.com/Sternrassler/coinmetrics-client/pkg/logging"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithEnv("", env(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
api:
  api_key: file-key
  rate_limit: 4
  timeout: 15s
retry:
  max_attempts: 2
  initial_backoff: 250ms
cache:
  ttl: 1m
parallel:
  max_workers: 5
  chunk_size: 3
log:
  level: debug
metrics:
  addr: ":9090"
`)

	cfg, err := LoadWithEnv(path, env(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}

	want := Default()
	want.API.APIKey = "file-key"
	want.API.RateLimit = 4
	want.API.Timeout = 15 * time.Second
	want.Retry.MaxAttempts = 2
	want.Retry.InitialBackoff = 250 * time.Millisecond
	want.Cache.TTL = time.Minute
	want.Parallel = ParallelConfig{MaxWorkers: 5, ChunkSize: 3}
	want.Log.Level = "debug"
	want.Metrics.Addr = ":9090"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "api:\n  api_key: file-key\nlog:\n  level: warn\n")

	cfg, err := LoadWithEnv(path, env(map[string]string{
		EnvAPIKey:    "env-key",
		EnvBaseURL:   "http://localhost:8080/v4",
		EnvRedisURL:  "redis://localhost:6379/2",
		EnvLogLevel:  "error",
		EnvLogPretty: "true",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}

	if cfg.API.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.API.APIKey)
	}
	if cfg.API.BaseURL != "http://localhost:8080/v4" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Cache.RedisURL != "redis://localhost:6379/2" {
		t.Errorf("RedisURL = %q", cfg.Cache.RedisURL)
	}
	if cfg.Log.Level != "error" || !cfg.Log.Pretty {
		t.Errorf("Log = %+v, want error/pretty", cfg.Log)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown key",
			file:    "api:\n  apikey: x\n",
			wantErr: "field apikey not found",
		},
		{
			name:    "bad duration",
			file:    "api:\n  timeout: soon\n",
			wantErr: "parse config",
		},
		{
			name:    "workers over limit",
			file:    "parallel:\n  max_workers: 500\n",
			wantErr: "parallel.max_workers must be between 1 and 50",
		},
		{
			name:    "zero chunk size",
			file:    "parallel:\n  chunk_size: 0\n",
			wantErr: "parallel.chunk_size must be >= 1",
		},
		{
			name:    "zero attempts",
			file:    "retry:\n  max_attempts: 0\n",
			wantErr: "retry.max_attempts must be >= 1",
		},
		{
			name:    "bad log level",
			env:     map[string]string{EnvLogLevel: "loud"},
			wantErr: "log.level",
		},
		{
			name:    "bad pretty flag",
			env:     map[string]string{EnvLogPretty: "maybe"},
			wantErr: EnvLogPretty,
		},
		{
			name:    "bad redis url",
			env:     map[string]string{EnvRedisURL: "ftp://nowhere"},
			wantErr: "cache.redis_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			_, err := LoadWithEnv(path, env(tt.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml"), env(nil))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want not-exist", err)
	}
}

func TestClient(t *testing.T) {
	t.Run("community defaults", func(t *testing.T) {
		got := Default().Client(nil)
		want := client.DefaultConfig("")
		want.Timeout = 60 * time.Second
		if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(client.Config{}, "Redis", "HTTPClient")); diff != "" {
			t.Errorf("client config mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		cfg := Default()
		cfg.API = APIConfig{
			BaseURL:   "http://localhost/v4",
			APIKey:    "key",
			UserAgent: "test-agent",
			RateLimit: 2,
			RateBurst: 1,
			Timeout:   time.Second,
		}
		cfg.Breaker = BreakerConfig{Failures: 9, Timeout: time.Minute}

		got := cfg.Client(nil)
		if got.BaseURL != "http://localhost/v4" || got.APIKey != "key" || got.UserAgent != "test-agent" {
			t.Errorf("identity not applied: %+v", got)
		}
		if got.RateLimit != 2 || got.RateBurst != 1 || got.Timeout != time.Second {
			t.Errorf("rate settings not applied: %+v", got)
		}
		if got.BreakerFailures != 9 || got.BreakerTimeout != time.Minute {
			t.Errorf("breaker not applied: %+v", got)
		}
		if got.Redis != nil || got.CacheTTL != 0 {
			t.Errorf("cache enabled without redis")
		}
		if _, err := client.New(got); err != nil {
			t.Errorf("client.New: %v", err)
		}
	})
}

func TestRedis(t *testing.T) {
	cfg := Default()
	rc, err := cfg.Redis()
	if err != nil || rc != nil {
		t.Fatalf("Redis() without url = %v, %v; want nil, nil", rc, err)
	}

	mr := miniredis.RunT(t)
	cfg.Cache.RedisURL = "redis://" + mr.Addr() + "/0"
	rc, err = cfg.Redis()
	if err != nil {
		t.Fatalf("Redis(): %v", err)
	}
	defer rc.Close()

	if err := rc.Ping(t.Context()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	cc := cfg.Client(rc)
	if cc.Redis != rc || cc.CacheTTL != cfg.Cache.TTL {
		t.Errorf("redis not wired into client config")
	}
}

func TestLoggingAndParallel(t *testing.T) {
	cfg := Default()
	cfg.Log = LogConfig{Level: "debug", Pretty: true}
	cfg.Parallel = ParallelConfig{MaxWorkers: 7, ChunkSize: 2}

	lc := cfg.Logging()
	if lc.Level != logging.LevelDebug || !lc.Pretty || lc.Output == nil {
		t.Errorf("Logging() = %+v", lc)
	}

	po := cfg.ParallelOptions()
	if po.MaxWorkers != 7 || po.ChunkSize != 2 || po.Now == nil {
		t.Errorf("ParallelOptions() = %+v", po)
	}
}
