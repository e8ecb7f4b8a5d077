package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Backend is the contract every storage implementation satisfies. Operations
// never fail from the caller's perspective: transient I/O errors are counted
// internally and surface as a miss (Get/MGet), false (Set/Delete/MSet), or
// zero (Clear). Callers treat every miss as "go compute it".
type Backend interface {
	// Get returns the value for key, or (nil, false) on a miss, an expired
	// entry, or any internal failure. Distributed backends return the raw
	// encoded value; use the generic Get helper for typed access.
	Get(ctx context.Context, key string) (any, bool)
	// Set stores val under key with the given TTL. If ttl <= 0, the
	// backend's configured default TTL is used. Returns false on failure.
	Set(ctx context.Context, key string, val any, ttl time.Duration) bool
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) bool
	// Clear removes all keys matching a glob pattern ("*" wildcards only).
	// An empty pattern or "*" removes everything. Returns the count removed.
	Clear(ctx context.Context, pattern string) int
	// MGet returns one slot per key; nil slots are misses.
	MGet(ctx context.Context, keys []string) []any
	// MSet stores a batch of items. Backends may pipeline the writes.
	MSet(ctx context.Context, items []Item) bool
	// Stats returns a point-in-time snapshot of backend counters.
	Stats(ctx context.Context) Stats
	// Healthy performs a real write/read/delete round trip on a private
	// sentinel key, not just a liveness ping.
	Healthy(ctx context.Context) bool
	// Close releases backend resources. Idempotent.
	Close(ctx context.Context) error
}

// Connector is implemented by backends that require an explicit session,
// such as the Redis backend. The registry calls Connect before first use and
// falls back to the memory backend when it fails.
type Connector interface {
	Connect(ctx context.Context) error
}

// Handler receives invalidation notices published on a pub/sub channel.
type Handler func(Notice)

// Invalidator is implemented by backends that coordinate invalidation
// across process instances.
type Invalidator interface {
	// InvalidatePattern clears matching local keys and publishes a Notice so
	// other instances can clear their own state. Returns the local count.
	InvalidatePattern(ctx context.Context, pattern string) int
	// Subscribe registers a handler for a channel. The first subscription to
	// a channel opens the underlying subscription; later ones add handlers.
	// Panics if the backend was never connected.
	Subscribe(channel string, fn Handler)
	// Unsubscribe tears down the channel's entire handler set.
	Unsubscribe(channel string)
}

// InvalidationChannel is the pub/sub channel carrying invalidation notices.
const InvalidationChannel = "cache:invalidation"

// Notice is the payload published on the invalidation channel.
type Notice struct {
	Pattern   string `json:"pattern"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

// Item is one entry in a batch MSet. A zero TTL means the backend default.
type Item struct {
	Key   string
	Value any
	TTL   time.Duration
}

// Stats is a point-in-time snapshot of backend counters. HitRate is derived
// on demand; nothing here is ever persisted.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hitRate"`
	TotalKeys   int64   `json:"totalKeys"`
	MemoryUsage int64   `json:"memoryUsage"`
	Evictions   int64   `json:"evictions"`
	Errors      int64   `json:"errors"`
	Reconnects  int64   `json:"reconnects"`
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Get retrieves a typed value from a backend. For the memory backend it
// performs a direct type assertion; for serialized backends it decodes the
// stored JSON. Decode failures behave as a miss.
func Get[T any](ctx context.Context, b Backend, key string) (T, bool) {
	var zero T
	val, ok := b.Get(ctx, key)
	if !ok {
		return zero, false
	}
	if typed, ok := val.(T); ok {
		return typed, true
	}
	if data, ok := val.([]byte); ok {
		var out T
		if err := json.Unmarshal(data, &out); err != nil {
			return zero, false
		}
		return out, true
	}
	return zero, false
}

// DefaultTTL is used when Set is called with ttl <= 0 and no override was
// configured.
const DefaultTTL = 5 * time.Minute

// DefaultQueryTimeout bounds each I/O operation on network-backed caches so
// a slow store cannot hang a request.
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	defaultTTL      time.Duration
	queryTimeout    time.Duration
	cleanupInterval time.Duration
	maxSize         int
	maxMemoryMB     int
	prefix          string
	maxRetries      int
	minRetryBackoff time.Duration
	maxRetryBackoff time.Duration
	invalidation    bool
}

// Option configures a backend.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL:      DefaultTTL,
		queryTimeout:    DefaultQueryTimeout,
		cleanupInterval: time.Minute,
		maxSize:         1000,
		maxMemoryMB:     100,
		maxRetries:      5,
		minRetryBackoff: 100 * time.Millisecond,
		maxRetryBackoff: 3 * time.Second,
		invalidation:    true,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithQueryTimeout sets the per-operation timeout for network-backed caches.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithCleanupInterval sets how often the memory backend sweeps expired
// entries. Defaults to 1 minute.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.cleanupInterval = d }
}

// WithMaxSize bounds the memory backend's entry count. Inserting past the
// bound evicts the least-recently-used entry. Defaults to 1000.
func WithMaxSize(n int) Option {
	return func(c *config) { c.maxSize = n }
}

// WithMaxMemoryMB sets the memory backend's soft byte budget. Sizes are
// approximated from the JSON encoding of each value. Defaults to 100.
func WithMaxMemoryMB(n int) Option {
	return func(c *config) { c.maxMemoryMB = n }
}

// WithPrefix sets the physical key prefix for the Redis backend, namespacing
// multiple caches on one store. Defaults to empty.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithMaxRetries bounds both the connect retry budget and per-command
// transport retries for the Redis backend.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithRetryBackoff sets the increasing, capped backoff window for Redis
// connect and transport retries.
func WithRetryBackoff(min, max time.Duration) Option {
	return func(c *config) {
		c.minRetryBackoff = min
		c.maxRetryBackoff = max
	}
}

// WithInvalidation controls whether the Redis backend subscribes to the
// invalidation channel on connect. Defaults to true.
func WithInvalidation(enabled bool) Option {
	return func(c *config) { c.invalidation = enabled }
}
