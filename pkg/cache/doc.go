// Package cache stores feed API responses in Redis so repeated GETs of the
// same page can be answered with a conditional request.
//
// Entries honor the Expires header of the response (falling back to
// DefaultTTL) and keep ETag / Last-Modified validators, which the client
// sends back as If-None-Match / If-Modified-Since. A 304 answer refreshes
// the entry's TTL and the cached body is replayed.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Path:  "/messages/sample",
//		Query: url.Values{"offset": []string{"20"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
// # Metrics
//
//   - feed_cache_hits_total{layer="redis"}
//   - feed_cache_misses_total
//   - feed_cache_bytes_written_total{layer="redis"}
//   - feed_304_responses_total
//   - feed_conditional_requests_total
//   - feed_cache_errors_total{operation}
package cache
