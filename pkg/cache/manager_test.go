package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis starts an in-memory Redis for the test.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Endpoint: "timeseries/asset-metrics", Params: map[string]string{"assets": "btc"}}
	entry := &Entry{
		Data:       []byte(`{"data":[{"asset":"btc"}]}`),
		StatusCode: 200,
		Expires:    time.Now().Add(5 * time.Minute),
		CachedAt:   time.Now(),
	}

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != string(entry.Data) || got.StatusCode != 200 {
		t.Errorf("Get() = %+v, want %+v", got, entry)
	}

	if ttl := mr.TTL(key.String()); ttl <= 0 || ttl > 5*time.Minute {
		t.Errorf("redis TTL = %v, want up to 5m", ttl)
	}
}

func TestManager_Miss(t *testing.T) {
	client, _ := setupTestRedis(t)
	manager := NewManager(client)

	_, err := manager.Get(context.Background(), Key{Endpoint: "catalog/assets"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_ExpiredEntryNotStored(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Endpoint: "catalog/assets"}
	if err := manager.Set(ctx, key, &Entry{Expires: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if mr.Exists(key.String()) {
		t.Error("expired entry should not be stored")
	}
}

func TestManager_ExpiresWithRedisTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Endpoint: "catalog/assets"}
	if err := manager.Set(ctx, key, &Entry{Data: []byte("x"), Expires: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss after expiry", err)
	}
}

func TestManager_InvalidEntry(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)

	key := Key{Endpoint: "catalog/assets"}
	if err := mr.Set(key.String(), "not json"); err != nil {
		t.Fatal(err)
	}

	if _, err := manager.Get(context.Background(), key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Get() error = %v, want ErrInvalidEntry", err)
	}
}

func TestManager_Delete(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Endpoint: "catalog/assets"}
	if err := manager.Set(ctx, key, &Entry{Data: []byte("x"), Expires: time.Now().Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if mr.Exists(key.String()) {
		t.Error("entry still present after Delete")
	}
}

func TestManager_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)
	mr.SetError("ERR server unavailable")

	_, err := manager.Get(context.Background(), Key{Endpoint: "catalog/assets"})
	if err == nil || errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want a redis error", err)
	}
}

func TestManager_Invalidate(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := func() *Entry { return &Entry{Data: []byte("x"), Expires: time.Now().Add(time.Minute)} }
	drop := []Key{
		{Endpoint: "catalog/assets"},
		{Endpoint: "catalog/assets", Params: map[string]string{"assets": "btc"}},
		{Endpoint: "catalog/assets", Params: map[string]string{"assets": "eth", "next_page_token": "2"}},
	}
	keep := []Key{
		{Endpoint: "catalog/assets-v2", Params: map[string]string{"assets": "btc"}},
		{Endpoint: "timeseries/asset-metrics", Params: map[string]string{"assets": "btc"}},
	}
	for _, k := range append(append([]Key{}, drop...), keep...) {
		if err := manager.Set(ctx, k, entry()); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
	if err := mr.Set("cm:rate_limit:remaining", "10"); err != nil {
		t.Fatal(err)
	}

	n, err := manager.Invalidate(ctx, "/catalog/assets/")
	if err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if n != len(drop) {
		t.Errorf("Invalidate() removed %d, want %d", n, len(drop))
	}
	for _, k := range drop {
		if mr.Exists(k.String()) {
			t.Errorf("%s still cached", k)
		}
	}
	for _, k := range keep {
		if !mr.Exists(k.String()) {
			t.Errorf("%s removed", k)
		}
	}
	if !mr.Exists("cm:rate_limit:remaining") {
		t.Error("rate limit state removed")
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob(`cm:a*b?[c]\d`); got != `cm:a\*b\?\[c\]\\d` {
		t.Errorf("escapeGlob() = %q", got)
	}
}
