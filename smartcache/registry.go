package smartcache

import (
	"context"
	"sync"

	"github.com/roborail/cachekit/cache"
	"github.com/roborail/cachekit/logger"
)

// Registry holds the single backend instance for a process (or a logical
// tenant: independent registries are independent caches). Construction is
// lazy and mutex-guarded, so exactly one backend exists between the first
// access and an explicit Reset. Inject a Registry into consumers rather
// than reaching for ambient state.
type Registry struct {
	mu      sync.Mutex
	ctx     context.Context
	cfg     Config
	log     logger.Logger
	backend cache.Backend
	smart   *SmartCache
}

// NewRegistry returns a Registry that builds backends from cfg on first
// use. The parent context bounds the lifetime of backends it constructs.
func NewRegistry(parent context.Context, cfg Config, log logger.Logger) *Registry {
	return &Registry{
		ctx: parent,
		cfg: cfg,
		log: log.With(map[string]interface{}{"component": "cache.registry"}),
	}
}

// Backend returns the process-wide backend, constructing it on first call.
// The redis backend is selected only when the config says so; if it cannot
// connect, the registry logs a warning and falls back to a memory backend
// instead of propagating the error. This is the only place a connection
// failure is surfaced at all.
func (r *Registry) Backend(ctx context.Context) cache.Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backend == nil {
		r.backend = r.build(ctx)
	}
	return r.backend
}

func (r *Registry) build(ctx context.Context) cache.Backend {
	common := []cache.Option{}
	if r.cfg.DefaultTTL > 0 {
		common = append(common, cache.WithDefaultTTL(r.cfg.DefaultTTL))
	}
	if r.cfg.Backend == BackendRedis {
		opts := append([]cache.Option{
			cache.WithPrefix(r.cfg.KeyPrefix),
			cache.WithInvalidation(r.cfg.EnableInvalidation),
		}, common...)
		rc := cache.NewRedis(r.ctx, r.cfg.RedisURL, r.log, opts...)
		if err := rc.Connect(ctx); err != nil {
			// Release the discarded backend's context and clients before
			// falling back.
			_ = rc.Close(ctx)
			r.log.Warn("redis cache unavailable, falling back to memory: %s", err)
		} else {
			return rc
		}
	}
	opts := common
	if r.cfg.MaxSize > 0 {
		opts = append(opts, cache.WithMaxSize(r.cfg.MaxSize))
	}
	if r.cfg.MaxMemoryMB > 0 {
		opts = append(opts, cache.WithMaxMemoryMB(r.cfg.MaxMemoryMB))
	}
	return cache.NewMemory(r.ctx, opts...)
}

// Smart returns the SmartCache built on the registry's backend, applying
// the config's kill switch.
func (r *Registry) Smart(ctx context.Context) *SmartCache {
	backend := r.Backend(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.smart == nil {
		r.smart = NewSmartCache(backend, r.log, WithDisabled(r.cfg.Disabled))
	}
	return r.smart
}

// Reset disconnects the current backend and clears the singleton so the
// next access rebuilds from scratch. It exists for test isolation and
// teardown; do not call it concurrently with live traffic.
func (r *Registry) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.backend != nil {
		err = r.backend.Close(ctx)
	}
	r.backend = nil
	r.smart = nil
	return err
}
