package smartcache

import (
	"os"
	"strings"
	"time"
)

// Backend kinds selectable through Config.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DefaultKeyPrefix namespaces every physical key on the wire.
const DefaultKeyPrefix = "roborail:cache:"

// Default time-to-live presets per semantic domain.
const (
	VectorSearchTTL  = 10 * time.Minute
	AgentRoutingTTL  = 30 * time.Minute
	AgentResponseTTL = 5 * time.Minute
	EmbeddingTTL     = 24 * time.Hour
	HealthCheckTTL   = 30 * time.Second
)

// Config selects and parameterizes a backend. It is immutable once a
// backend has been constructed from it; to change it, reset the registry
// and let the next access rebuild.
type Config struct {
	// Backend is BackendMemory or BackendRedis.
	Backend string
	// RedisURL is the connection string for the redis backend.
	RedisURL string
	// KeyPrefix namespaces physical keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string
	// Disabled is the global kill switch: reads always miss, writes are
	// no-ops, and the backend is never touched.
	Disabled bool
	// DefaultTTL applies when a caller supplies no TTL and no domain preset
	// fits. Zero means the backend default.
	DefaultTTL time.Duration
	// MaxSize and MaxMemoryMB bound the memory backend.
	MaxSize     int
	MaxMemoryMB int
	// EnableInvalidation subscribes the redis backend to the invalidation
	// channel on connect.
	EnableInvalidation bool
}

// FromEnv derives a Config from the environment:
//
//   - REDIS_URL (or the legacy KV_URL) supplies the connection string
//   - APP_ENV of "production" or "staging" is production-like; the redis
//     backend is selected only when both a URL and a production-like
//     environment are present
//   - CACHE_DISABLED set truthy disables all caching
//   - CACHE_KEY_PREFIX overrides the key namespace
func FromEnv() Config {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = os.Getenv("KV_URL")
	}
	backend := BackendMemory
	if url != "" && productionLike(os.Getenv("APP_ENV")) {
		backend = BackendRedis
	}
	prefix := os.Getenv("CACHE_KEY_PREFIX")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return Config{
		Backend:            backend,
		RedisURL:           url,
		KeyPrefix:          prefix,
		Disabled:           truthy(os.Getenv("CACHE_DISABLED")),
		MaxSize:            1000,
		MaxMemoryMB:        100,
		EnableInvalidation: true,
	}
}

func productionLike(env string) bool {
	switch strings.ToLower(env) {
	case "production", "prod", "staging":
		return true
	}
	return false
}

func truthy(val string) bool {
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
