// Package cache stores API page responses in Redis.
//
// Every page of a collection is addressed by its endpoint and its full,
// normalized parameter set, page token included, so a cached page is only
// ever served for exactly the request that produced it. The API key is
// never part of a cache key.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Endpoint: "timeseries/asset-metrics",
//		Params:   map[string]string{"assets": "btc", "metrics": "PriceUSD"},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then:
//		entry = cache.NewEntry(resp.StatusCode, resp.Header, body, 5*time.Minute)
//		err = manager.Set(ctx, key, entry)
//	}
//
// # Expiry
//
// The TTL of an entry comes from the response's Cache-Control max-age or
// Expires header and falls back to the caller's default. Responses marked
// no-store are never cached.
//
// # Metrics
//
//   - cm_cache_hits_total{layer="redis"}
//   - cm_cache_misses_total
//   - cm_cache_size_bytes{layer="redis"}
//   - cm_cache_errors_total{operation}
package cache
