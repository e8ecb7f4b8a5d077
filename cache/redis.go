package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/roborail/cachekit/logger"
)

// ConnState tracks the Redis backend's connection lifecycle.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

var errNotConnected = errors.New("cache: backend is not connected")

type subscription struct {
	pubsub   *redis.PubSub
	handlers []Handler
}

// RedisBackend is a network-backed Backend adding cross-instance
// invalidation over pub/sub. Construct with NewRedis, then Connect before
// use; the registry handles both and falls back to memory on failure.
type RedisBackend struct {
	url       string
	client    *redis.Client
	subClient *redis.Client
	state     atomic.Int32
	cfg       config
	log       logger.Logger
	breaker   *gobreaker.CircuitBreaker

	// source identifies this process instance on the invalidation channel so
	// it can skip notices it published itself.
	source string

	ctx    context.Context
	cancel context.CancelFunc

	subMu sync.Mutex
	subs  map[string]*subscription

	hits       atomic.Int64
	misses     atomic.Int64
	errs       atomic.Int64
	reconnects atomic.Int64
}

var (
	_ Backend     = (*RedisBackend)(nil)
	_ Connector   = (*RedisBackend)(nil)
	_ Invalidator = (*RedisBackend)(nil)
)

// NewRedis returns an unconnected Redis backend. Values are stored as JSON
// text under prefixed keys. A separate connection carries long-lived pub/sub
// subscriptions so they never block ordinary commands.
func NewRedis(parent context.Context, url string, log logger.Logger, opts ...Option) *RedisBackend {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &RedisBackend{
		url:    url,
		cfg:    cfg,
		log:    log.With(map[string]interface{}{"component": "cache.redis"}),
		source: uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*subscription),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cache-redis",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return c
}

// State returns the current connection state.
func (c *RedisBackend) State() ConnState {
	return ConnState(c.state.Load())
}

// Connect establishes the Redis session, retrying the initial ping with
// increasing, capped backoff up to the configured retry budget. On failure
// the backend stays disconnected and the caller decides what to fall back
// to. Safe to call once; subsequent calls on a connected backend are no-ops.
func (c *RedisBackend) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return nil
	}
	opt, err := redis.ParseURL(c.url)
	if err != nil {
		c.state.Store(int32(Disconnected))
		return errors.Wrap(err, "cache: invalid redis url")
	}
	// Transport-level retries after connect: go-redis retries each command
	// with this same increasing, capped backoff.
	opt.MaxRetries = c.cfg.maxRetries
	opt.MinRetryBackoff = c.cfg.minRetryBackoff
	opt.MaxRetryBackoff = c.cfg.maxRetryBackoff
	// Connections established after the session is up are reconnects made
	// transparently by the client; surface them in Stats.
	opt.OnConnect = func(_ context.Context, _ *redis.Conn) error {
		if c.State() == Connected {
			c.reconnects.Add(1)
			c.log.Debug("redis connection re-established")
		}
		return nil
	}

	c.client = redis.NewClient(opt)
	c.subClient = redis.NewClient(opt)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.minRetryBackoff
	bo.MaxInterval = c.cfg.maxRetryBackoff
	attempts := 0
	err = backoff.Retry(func() error {
		if attempts > 0 {
			c.reconnects.Add(1)
		}
		attempts++
		pingCtx, cancel := context.WithTimeout(ctx, c.cfg.queryTimeout)
		defer cancel()
		return c.client.Ping(pingCtx).Err()
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.maxRetries)), ctx))
	if err != nil {
		c.client.Close()
		c.subClient.Close()
		c.state.Store(int32(Disconnected))
		return errors.Wrapf(err, "cache: redis unreachable after %d attempts", attempts)
	}
	c.state.Store(int32(Connected))
	c.log.Debug("connected to redis, prefix %q", c.cfg.prefix)

	if c.cfg.invalidation {
		c.Subscribe(InvalidationChannel, c.handleInvalidation)
	}
	return nil
}

func (c *RedisBackend) prefixed(key string) string {
	return c.cfg.prefix + key
}

// do runs one command with the per-operation timeout behind the circuit
// breaker. Every failure is counted; none escapes to the caller as anything
// other than a miss or false.
func (c *RedisBackend) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.State() != Connected {
		c.errs.Add(1)
		return errNotConnected
	}
	_, err := c.breaker.Execute(func() (any, error) {
		qctx, cancel := context.WithTimeout(ctx, c.cfg.queryTimeout)
		defer cancel()
		return nil, fn(qctx)
	})
	if err != nil {
		c.errs.Add(1)
	}
	return err
}

func (c *RedisBackend) Get(ctx context.Context, key string) (any, bool) {
	var data []byte
	var found bool
	err := c.do(ctx, func(qctx context.Context) error {
		b, err := c.client.Get(qctx, c.prefixed(key)).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		data = b
		found = true
		return nil
	})
	if err != nil || !found {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return data, true
}

func (c *RedisBackend) Set(ctx context.Context, key string, val any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}
	data, err := json.Marshal(val)
	if err != nil {
		c.errs.Add(1)
		c.log.Debug("value for %s is not serializable: %s", key, err)
		return false
	}
	err = c.do(ctx, func(qctx context.Context) error {
		return c.client.Set(qctx, c.prefixed(key), data, ttl).Err()
	})
	return err == nil
}

func (c *RedisBackend) Delete(ctx context.Context, key string) bool {
	var removed int64
	err := c.do(ctx, func(qctx context.Context) error {
		n, err := c.client.Del(qctx, c.prefixed(key)).Result()
		removed = n
		return err
	})
	return err == nil && removed > 0
}

func (c *RedisBackend) Clear(ctx context.Context, pattern string) int {
	if pattern == "" {
		pattern = "*"
	}
	var removed int
	err := c.do(ctx, func(qctx context.Context) error {
		var keys []string
		iter := c.client.Scan(qctx, 0, c.prefixed(pattern), 100).Iterator()
		for iter.Next(qctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		n, err := c.client.Del(qctx, keys...).Result()
		removed = int(n)
		return err
	})
	if err != nil {
		return 0
	}
	return removed
}

func (c *RedisBackend) MGet(ctx context.Context, keys []string) []any {
	out := make([]any, len(keys))
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.prefixed(key)
	}
	err := c.do(ctx, func(qctx context.Context) error {
		vals, err := c.client.MGet(qctx, prefixed...).Result()
		if err != nil {
			return err
		}
		for i, val := range vals {
			if s, ok := val.(string); ok {
				out[i] = []byte(s)
				c.hits.Add(1)
			} else {
				c.misses.Add(1)
			}
		}
		return nil
	})
	if err != nil {
		c.misses.Add(int64(len(keys)))
		return make([]any, len(keys))
	}
	return out
}

func (c *RedisBackend) MSet(ctx context.Context, items []Item) bool {
	encoded := make([][]byte, len(items))
	for i, item := range items {
		data, err := json.Marshal(item.Value)
		if err != nil {
			c.errs.Add(1)
			return false
		}
		encoded[i] = data
	}
	err := c.do(ctx, func(qctx context.Context) error {
		pipe := c.client.TxPipeline()
		for i, item := range items {
			ttl := item.TTL
			if ttl <= 0 {
				ttl = c.cfg.defaultTTL
			}
			pipe.Set(qctx, c.prefixed(item.Key), encoded[i], ttl)
		}
		_, err := pipe.Exec(qctx)
		return err
	})
	return err == nil
}

func (c *RedisBackend) Stats(ctx context.Context) Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := Stats{
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate(hits, misses),
		Errors:     c.errs.Load(),
		Reconnects: c.reconnects.Load(),
	}
	_ = c.do(ctx, func(qctx context.Context) error {
		n, err := c.client.DBSize(qctx).Result()
		if err != nil {
			return err
		}
		stats.TotalKeys = n
		info, err := c.client.Info(qctx, "memory").Result()
		if err != nil {
			return err
		}
		stats.MemoryUsage = parseUsedMemory(info)
		return nil
	})
	return stats
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if val, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}

// Healthy performs a write/read/delete round trip on a private sentinel key.
func (c *RedisBackend) Healthy(ctx context.Context) bool {
	key := c.prefixed("health:probe:" + uuid.NewString())
	err := c.do(ctx, func(qctx context.Context) error {
		if err := c.client.Set(qctx, key, "ok", 5*time.Second).Err(); err != nil {
			return err
		}
		val, err := c.client.Get(qctx, key).Result()
		if err != nil {
			return err
		}
		if val != "ok" {
			return errors.New("cache: health probe read mismatch")
		}
		return c.client.Del(qctx, key).Err()
	})
	return err == nil
}

// InvalidatePattern clears matching local keys and publishes a Notice so
// other instances clear their own state. There is no shared authority: each
// instance reacts to the notice on its own subscribed handlers.
func (c *RedisBackend) InvalidatePattern(ctx context.Context, pattern string) int {
	removed := c.Clear(ctx, pattern)
	notice := Notice{
		Pattern:   pattern,
		Timestamp: time.Now().UnixMilli(),
		Source:    c.source,
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		c.errs.Add(1)
		return removed
	}
	err = c.do(ctx, func(qctx context.Context) error {
		return c.client.Publish(qctx, InvalidationChannel, payload).Err()
	})
	if err != nil {
		c.log.Debug("failed to publish invalidation for %q: %s", pattern, err)
	}
	return removed
}

// handleInvalidation reacts to notices from other instances. Notices this
// instance published are skipped: the local clear already happened.
func (c *RedisBackend) handleInvalidation(n Notice) {
	if n.Source == c.source {
		return
	}
	removed := c.Clear(c.ctx, n.Pattern)
	c.log.Debug("invalidated %d keys for pattern %q from %s", removed, n.Pattern, n.Source)
}

// Subscribe registers a handler for channel. The first subscription opens
// the underlying pub/sub stream; later ones only add handlers. Subscribing
// on a backend that was never connected is a programmer error and panics.
func (c *RedisBackend) Subscribe(channel string, fn Handler) {
	if c.State() != Connected {
		panic("cache: Subscribe called on a backend that is not connected")
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if sub, ok := c.subs[channel]; ok {
		sub.handlers = append(sub.handlers, fn)
		return
	}
	sub := &subscription{
		pubsub:   c.subClient.Subscribe(c.ctx, channel),
		handlers: []Handler{fn},
	}
	c.subs[channel] = sub
	go c.dispatch(channel, sub.pubsub)
}

func (c *RedisBackend) dispatch(channel string, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var notice Notice
			if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
				c.log.Debug("dropping malformed notice on %s: %s", channel, err)
				continue
			}
			c.subMu.Lock()
			sub, ok := c.subs[channel]
			var handlers []Handler
			if ok {
				handlers = append(handlers, sub.handlers...)
			}
			c.subMu.Unlock()
			for _, fn := range handlers {
				fn(notice)
			}
		}
	}
}

// Unsubscribe tears down the channel's entire handler set, closing the
// underlying subscription. Per-handler removal is intentionally not offered.
func (c *RedisBackend) Unsubscribe(channel string) {
	c.subMu.Lock()
	sub, ok := c.subs[channel]
	if ok {
		delete(c.subs, channel)
	}
	c.subMu.Unlock()
	if ok {
		sub.pubsub.Close()
	}
}

func (c *RedisBackend) Close(_ context.Context) error {
	c.cancel()
	c.subMu.Lock()
	for channel, sub := range c.subs {
		sub.pubsub.Close()
		delete(c.subs, channel)
	}
	c.subMu.Unlock()
	var firstErr error
	if c.client != nil {
		firstErr = c.client.Close()
	}
	if c.subClient != nil {
		if err := c.subClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.state.Store(int32(Disconnected))
	return firstErr
}
