package smartcache

import (
	"context"
	"encoding/json"
	"reflect"
	"time"
)

// Compute produces a value when the cache has none. It is opaque to the
// cache layer: a zero-argument closure over whatever the caller needs.
type Compute[T any] func(ctx context.Context) (T, error)

// coerce converts a cached value into T. Values from the memory backend
// assert directly; values decoded from JSON are re-marshaled into T.
func coerce[T any](val any) (T, bool) {
	if typed, ok := val.(T); ok {
		return typed, true
	}
	var zero T
	data, err := json.Marshal(val)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}

// worthCaching reports whether a computed result should be stored. Zero
// values (nil maps, empty strings, nil pointers) are recomputed next time
// rather than cached.
func worthCaching(val any) bool {
	v := reflect.ValueOf(val)
	return v.IsValid() && !v.IsZero()
}

func cacheAside[T any](ctx context.Context, lookup func() (any, bool), store func(T), compute Compute[T]) (T, error) {
	if val, ok := lookup(); ok {
		if typed, ok := coerce[T](val); ok {
			return typed, nil
		}
	}
	result, err := compute(ctx)
	if err != nil {
		return result, err
	}
	if worthCaching(result) {
		store(result)
	}
	return result, nil
}

// CachedVectorSearch returns the cached search result for the descriptor,
// or computes, caches, and returns it. compute is never invoked on a hit.
func CachedVectorSearch[T any](ctx context.Context, sc *SmartCache, query string, sources []string, options map[string]any, compute Compute[T], ttl ...time.Duration) (T, error) {
	return cacheAside(ctx,
		func() (any, bool) { return sc.GetCachedVectorSearch(ctx, query, sources, options) },
		func(result T) { sc.CacheVectorSearch(ctx, query, sources, options, result, ttl...) },
		compute)
}

// CachedAgentRoute is the cache-aside form of an agent routing decision.
func CachedAgentRoute[T any](ctx context.Context, sc *SmartCache, query string, routingContext map[string]any, compute Compute[T], ttl ...time.Duration) (T, error) {
	return cacheAside(ctx,
		func() (any, bool) { return sc.GetCachedAgentRoute(ctx, query, routingContext) },
		func(result T) { sc.CacheAgentRoute(ctx, query, routingContext, result, ttl...) },
		compute)
}

// CachedAgentResponse is the cache-aside form of agent response generation.
func CachedAgentResponse[T any](ctx context.Context, sc *SmartCache, agentType, query string, responseContext map[string]any, compute Compute[T], ttl ...time.Duration) (T, error) {
	return cacheAside(ctx,
		func() (any, bool) { return sc.GetCachedAgentResponse(ctx, agentType, query, responseContext) },
		func(result T) { sc.CacheAgentResponse(ctx, agentType, query, responseContext, result, ttl...) },
		compute)
}

// CachedEmbedding is the cache-aside form of embedding generation.
func CachedEmbedding[T any](ctx context.Context, sc *SmartCache, content, model string, compute Compute[T], ttl ...time.Duration) (T, error) {
	return cacheAside(ctx,
		func() (any, bool) { return sc.GetCachedEmbedding(ctx, content, model) },
		func(result T) { sc.CacheEmbedding(ctx, content, model, result, ttl...) },
		compute)
}

// CachedHealthCheck is the cache-aside form of a health probe.
func CachedHealthCheck[T any](ctx context.Context, sc *SmartCache, service, endpoint string, compute Compute[T], ttl ...time.Duration) (T, error) {
	return cacheAside(ctx,
		func() (any, bool) { return sc.GetCachedHealthCheck(ctx, service, endpoint) },
		func(result T) { sc.CacheHealthCheck(ctx, service, endpoint, result, ttl...) },
		compute)
}
