// Package smartcache is the domain-aware layer over the cache backends: one
// cache/get pair per semantic domain with TTL presets and a global kill
// switch, a registry that picks a backend from configuration with graceful
// fallback, and cache-aside helpers that wrap compute closures.
package smartcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roborail/cachekit/cache"
	"github.com/roborail/cachekit/cachekey"
	"github.com/roborail/cachekit/logger"
)

// SmartCache exposes one cache/get method pair per semantic domain. Keys
// come from the cachekey generator, TTLs from the domain presets unless the
// caller overrides them, and every failure degrades to a miss. With the
// kill switch on, writes return false, reads return misses, and the backend
// is never touched.
type SmartCache struct {
	backend  cache.Backend
	keys     *cachekey.Generator
	disabled bool
	log      logger.Logger
}

// SmartOption configures a SmartCache.
type SmartOption func(*SmartCache)

// WithDisabled sets the global kill switch.
func WithDisabled(disabled bool) SmartOption {
	return func(s *SmartCache) { s.disabled = disabled }
}

// WithKeyGenerator replaces the default key generator, e.g. one built with
// cachekey.WithWideHash.
func WithKeyGenerator(g *cachekey.Generator) SmartOption {
	return func(s *SmartCache) { s.keys = g }
}

// NewSmartCache wraps a backend with domain-aware methods.
func NewSmartCache(backend cache.Backend, log logger.Logger, opts ...SmartOption) *SmartCache {
	s := &SmartCache{
		backend: backend,
		keys:    cachekey.New(),
		log:     log.With(map[string]interface{}{"component": "smartcache"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *SmartCache) Backend() cache.Backend {
	return s.backend
}

// Disabled reports whether the kill switch is on.
func (s *SmartCache) Disabled() bool {
	return s.disabled
}

func pickTTL(preset time.Duration, override []time.Duration) time.Duration {
	if len(override) > 0 && override[0] > 0 {
		return override[0]
	}
	return preset
}

func (s *SmartCache) set(ctx context.Context, key string, val any, ttl time.Duration) bool {
	if s.disabled {
		return false
	}
	return s.backend.Set(ctx, key, val, ttl)
}

// get returns the decoded value. Serialized backends hand back raw JSON;
// it is decoded here so callers see the value, not its encoding.
func (s *SmartCache) get(ctx context.Context, key string) (any, bool) {
	if s.disabled {
		return nil, false
	}
	val, ok := s.backend.Get(ctx, key)
	if !ok {
		return nil, false
	}
	if data, isRaw := val.([]byte); isRaw {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			s.log.Debug("dropping undecodable entry %s: %s", key, err)
			return nil, false
		}
		return decoded, true
	}
	return val, true
}

// CacheVectorSearch stores a vector similarity search result.
func (s *SmartCache) CacheVectorSearch(ctx context.Context, query string, sources []string, options map[string]any, result any, ttl ...time.Duration) bool {
	return s.set(ctx, s.keys.VectorSearch(query, sources, options), result, pickTTL(VectorSearchTTL, ttl))
}

// GetCachedVectorSearch returns a previously cached search result.
func (s *SmartCache) GetCachedVectorSearch(ctx context.Context, query string, sources []string, options map[string]any) (any, bool) {
	return s.get(ctx, s.keys.VectorSearch(query, sources, options))
}

// CacheAgentRoute stores an agent routing decision.
func (s *SmartCache) CacheAgentRoute(ctx context.Context, query string, routingContext map[string]any, decision any, ttl ...time.Duration) bool {
	return s.set(ctx, s.keys.AgentRouting(query, routingContext), decision, pickTTL(AgentRoutingTTL, ttl))
}

// GetCachedAgentRoute returns a previously cached routing decision.
func (s *SmartCache) GetCachedAgentRoute(ctx context.Context, query string, routingContext map[string]any) (any, bool) {
	return s.get(ctx, s.keys.AgentRouting(query, routingContext))
}

// CacheAgentResponse stores a generated agent response.
func (s *SmartCache) CacheAgentResponse(ctx context.Context, agentType, query string, responseContext map[string]any, response any, ttl ...time.Duration) bool {
	return s.set(ctx, s.keys.AgentResponse(agentType, query, responseContext), response, pickTTL(AgentResponseTTL, ttl))
}

// GetCachedAgentResponse returns a previously cached agent response.
func (s *SmartCache) GetCachedAgentResponse(ctx context.Context, agentType, query string, responseContext map[string]any) (any, bool) {
	return s.get(ctx, s.keys.AgentResponse(agentType, query, responseContext))
}

// CacheEmbedding stores a document embedding.
func (s *SmartCache) CacheEmbedding(ctx context.Context, content, model string, embedding any, ttl ...time.Duration) bool {
	return s.set(ctx, s.keys.DocumentEmbedding(content, model), embedding, pickTTL(EmbeddingTTL, ttl))
}

// GetCachedEmbedding returns a previously cached embedding.
func (s *SmartCache) GetCachedEmbedding(ctx context.Context, content, model string) (any, bool) {
	return s.get(ctx, s.keys.DocumentEmbedding(content, model))
}

// CacheHealthCheck stores a health probe result.
func (s *SmartCache) CacheHealthCheck(ctx context.Context, service, endpoint string, result any, ttl ...time.Duration) bool {
	return s.set(ctx, s.keys.HealthCheck(service, endpoint), result, pickTTL(HealthCheckTTL, ttl))
}

// GetCachedHealthCheck returns a previously cached probe result.
func (s *SmartCache) GetCachedHealthCheck(ctx context.Context, service, endpoint string) (any, bool) {
	return s.get(ctx, s.keys.HealthCheck(service, endpoint))
}

// InvalidatePattern removes matching entries. On a backend with
// cross-instance invalidation this also notifies other instances; otherwise
// it is a local clear.
func (s *SmartCache) InvalidatePattern(ctx context.Context, pattern string) int {
	if s.disabled {
		return 0
	}
	if inv, ok := s.backend.(cache.Invalidator); ok {
		return inv.InvalidatePattern(ctx, pattern)
	}
	return s.backend.Clear(ctx, pattern)
}

// InvalidateVectorSearches removes every vector-search entry.
func (s *SmartCache) InvalidateVectorSearches(ctx context.Context) int {
	return s.InvalidatePattern(ctx, "vs:*")
}

// InvalidateAgentRoutes removes every routing decision.
func (s *SmartCache) InvalidateAgentRoutes(ctx context.Context) int {
	return s.InvalidatePattern(ctx, "route:*")
}

// InvalidateAgentResponses removes every cached agent response.
func (s *SmartCache) InvalidateAgentResponses(ctx context.Context) int {
	return s.InvalidatePattern(ctx, "resp:*")
}

// InvalidateEmbeddings removes every cached embedding.
func (s *SmartCache) InvalidateEmbeddings(ctx context.Context) int {
	return s.InvalidatePattern(ctx, "emb:*")
}

// InvalidateHealthChecks removes every cached probe result.
func (s *SmartCache) InvalidateHealthChecks(ctx context.Context) int {
	return s.InvalidatePattern(ctx, "health:*")
}

// Stats passes through to the backend.
func (s *SmartCache) Stats(ctx context.Context) cache.Stats {
	return s.backend.Stats(ctx)
}

// Healthy passes through to the backend.
func (s *SmartCache) Healthy(ctx context.Context) bool {
	if s.disabled {
		return true
	}
	return s.backend.Healthy(ctx)
}
