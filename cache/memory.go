package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// entry is the unit of storage. It is owned exclusively by the backend
// holding it and is destroyed on expiry, eviction, delete, or Close.
type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
	hits      int
	size      int64
}

type memoryBackend struct {
	ctx       context.Context
	cancel    context.CancelFunc
	lru       *simplelru.LRU[string, *entry]
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config

	memBytes  int64
	hits      int64
	misses    int64
	evictions int64

	// set while an insert or budget trim is underway so the LRU callback can
	// tell capacity evictions apart from expiry and explicit removal
	evicting bool
}

var _ Backend = (*memoryBackend)(nil)

// NewMemory returns a bounded in-process Backend. It is the default and the
// fallback target when the Redis backend cannot connect. A background
// goroutine sweeps expired entries every cleanup interval so memory is
// reclaimed even for keys nobody reads again.
func NewMemory(parent context.Context, opts ...Option) Backend {
	cfg := applyOptions(opts)
	if cfg.maxSize <= 0 {
		cfg.maxSize = defaultConfig().maxSize
	}
	ctx, cancel := context.WithCancel(parent)
	m := &memoryBackend{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}
	m.lru, _ = simplelru.NewLRU(cfg.maxSize, m.onEvict)
	m.waitGroup.Add(1)
	go m.run()
	return m
}

func (m *memoryBackend) onEvict(_ string, e *entry) {
	m.memBytes -= e.size
	if m.evicting {
		m.evictions++
	}
}

// approxSize estimates an entry's footprint from its JSON encoding. Values
// that cannot be encoded (functions, channels) get a flat estimate.
func approxSize(key string, val any) int64 {
	data, err := json.Marshal(val)
	if err != nil {
		return int64(len(key)) + 64
	}
	return int64(len(key) + len(data))
}

func (m *memoryBackend) Get(_ context.Context, key string) (any, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.lru.Get(key)
	if !ok {
		m.misses++
		return nil, false
	}
	if e.expiresAt.Before(time.Now()) {
		m.lru.Remove(key)
		m.misses++
		return nil, false
	}
	e.hits++
	m.hits++
	return e.value, true
}

func (m *memoryBackend) Set(_ context.Context, key string, val any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.cfg.defaultTTL
	}
	now := time.Now()
	e := &entry{
		value:     val,
		createdAt: now,
		expiresAt: now.Add(ttl),
		size:      approxSize(key, val),
	}
	budget := int64(m.cfg.maxMemoryMB) * 1024 * 1024
	m.mutex.Lock()
	defer m.mutex.Unlock()
	// Replacing a key must not count as an eviction.
	m.lru.Remove(key)
	m.evicting = true
	for m.lru.Len() > 0 && m.memBytes+e.size > budget {
		m.lru.RemoveOldest()
	}
	m.lru.Add(key, e)
	m.evicting = false
	m.memBytes += e.size
	return true
}

func (m *memoryBackend) Delete(_ context.Context, key string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.lru.Remove(key)
}

func (m *memoryBackend) Clear(_ context.Context, pattern string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if pattern == "" || pattern == "*" {
		n := m.lru.Len()
		m.lru.Purge()
		m.memBytes = 0
		return n
	}
	var removed int
	for _, key := range m.lru.Keys() {
		if globMatch(pattern, key) {
			m.lru.Remove(key)
			removed++
		}
	}
	return removed
}

func (m *memoryBackend) MGet(ctx context.Context, keys []string) []any {
	out := make([]any, len(keys))
	for i, key := range keys {
		if val, ok := m.Get(ctx, key); ok {
			out[i] = val
		}
	}
	return out
}

func (m *memoryBackend) MSet(ctx context.Context, items []Item) bool {
	ok := true
	for _, item := range items {
		if !m.Set(ctx, item.Key, item.Value, item.TTL) {
			ok = false
		}
	}
	return ok
}

func (m *memoryBackend) Stats(_ context.Context) Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return Stats{
		Hits:        m.hits,
		Misses:      m.misses,
		HitRate:     hitRate(m.hits, m.misses),
		TotalKeys:   int64(m.lru.Len()),
		MemoryUsage: m.memBytes,
		Evictions:   m.evictions,
	}
}

// Healthy round-trips a sentinel entry against the map directly so probes
// never skew the hit/miss counters.
func (m *memoryBackend) Healthy(_ context.Context) bool {
	key := "health:probe:" + uuid.NewString()
	now := time.Now()
	e := &entry{
		value:     "ok",
		createdAt: now,
		expiresAt: now.Add(time.Second),
		size:      approxSize(key, "ok"),
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.evicting = true
	m.lru.Add(key, e)
	m.evicting = false
	m.memBytes += e.size
	got, ok := m.lru.Get(key)
	m.lru.Remove(key)
	return ok && got.value == "ok"
}

func (m *memoryBackend) Close(_ context.Context) error {
	m.once.Do(func() {
		m.cancel()
		m.waitGroup.Wait()
		m.mutex.Lock()
		m.lru.Purge()
		m.memBytes = 0
		m.mutex.Unlock()
	})
	return nil
}

// run sweeps expired entries independent of read traffic.
func (m *memoryBackend) run() {
	defer m.waitGroup.Done()
	ticker := time.NewTicker(m.cfg.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.mutex.Lock()
			for _, key := range m.lru.Keys() {
				if e, ok := m.lru.Peek(key); ok && e.expiresAt.Before(now) {
					m.lru.Remove(key)
				}
			}
			m.mutex.Unlock()
		}
	}
}
