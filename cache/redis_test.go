package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roborail/cachekit/logger"
)

func newTestRedis(t *testing.T, opts ...Option) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	opts = append([]Option{
		WithPrefix("test:"),
		WithMaxRetries(1),
		WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
	}, opts...)
	c := NewRedis(context.Background(), "redis://"+mr.Addr(), logger.NewTestLogger(), opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close(context.Background()) })
	return mr, c
}

func TestRedisConnectStates(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedis(context.Background(), "redis://"+mr.Addr(), logger.NewTestLogger())
	assert.Equal(t, Disconnected, c.State())
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())
	// Connecting twice is a no-op.
	assert.NoError(t, c.Connect(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
	assert.Equal(t, Disconnected, c.State())
}

func TestRedisConnectFailure(t *testing.T) {
	c := NewRedis(context.Background(), "redis://127.0.0.1:1",
		logger.NewTestLogger(),
		WithMaxRetries(1), WithRetryBackoff(time.Millisecond, 2*time.Millisecond))
	err := c.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Disconnected, c.State())
}

func TestRedisBadURL(t *testing.T) {
	c := NewRedis(context.Background(), "not-a-url", logger.NewTestLogger())
	assert.Error(t, c.Connect(context.Background()))
	assert.Equal(t, Disconnected, c.State())
}

func TestRedisOpsBeforeConnectDegrade(t *testing.T) {
	ctx := context.Background()
	c := NewRedis(ctx, "redis://127.0.0.1:1", logger.NewTestLogger())

	// Never throws: everything behaves as a miss or false.
	val, ok := c.Get(ctx, "key")
	assert.False(t, ok)
	assert.Nil(t, val)
	assert.False(t, c.Set(ctx, "key", "value", time.Minute))
	assert.False(t, c.Delete(ctx, "key"))
	assert.Zero(t, c.Clear(ctx, "*"))
	assert.False(t, c.Healthy(ctx))
	assert.Positive(t, c.Stats(ctx).Errors)
}

func TestRedisSubscribeBeforeConnectPanics(t *testing.T) {
	c := NewRedis(context.Background(), "redis://127.0.0.1:1", logger.NewTestLogger())
	assert.Panics(t, func() {
		c.Subscribe(InvalidationChannel, func(Notice) {})
	})
}

func TestRedisSetGet(t *testing.T) {
	mr, c := newTestRedis(t)
	ctx := context.Background()

	val, ok := c.Get(ctx, "key")
	assert.False(t, ok)
	assert.Nil(t, val)

	assert.True(t, c.Set(ctx, "key", "value", time.Minute))
	typed, ok := Get[string](ctx, c, "key")
	assert.True(t, ok)
	assert.Equal(t, "value", typed)

	// Keys are physically prefixed on the wire.
	assert.True(t, mr.Exists("test:key"))
}

func TestRedisStructRoundTrip(t *testing.T) {
	_, c := newTestRedis(t)
	ctx := context.Background()

	type doc struct {
		Title string   `json:"title"`
		Tags  []string `json:"tags"`
	}
	in := doc{Title: "rail spec", Tags: []string{"a", "b"}}
	assert.True(t, c.Set(ctx, "doc", in, time.Minute))
	out, ok := Get[doc](ctx, c, "doc")
	assert.True(t, ok)
	assert.Equal(t, in, out)
}

func TestRedisExpiry(t *testing.T) {
	mr, c := newTestRedis(t)
	ctx := context.Background()

	assert.True(t, c.Set(ctx, "key", "value", 2*time.Second))
	_, ok := c.Get(ctx, "key")
	assert.True(t, ok)

	mr.FastForward(3 * time.Second)

	val, ok := c.Get(ctx, "key")
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestRedisMalformedValueIsMiss(t *testing.T) {
	mr, c := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("test:bad", "{not json"))
	type doc struct{ Title string }
	_, ok := Get[doc](ctx, c, "bad")
	assert.False(t, ok, "decode failure must behave as a miss, never a crash")
}

func TestRedisDelete(t *testing.T) {
	_, c := newTestRedis(t)
	ctx := context.Background()

	assert.True(t, c.Set(ctx, "key", "value", time.Minute))
	assert.True(t, c.Delete(ctx, "key"))
	assert.False(t, c.Delete(ctx, "key"))
}

func TestRedisClearPattern(t *testing.T) {
	_, c := newTestRedis(t)
	ctx := context.Background()

	assert.True(t, c.Set(ctx, "vs:a:b", 1, time.Minute))
	assert.True(t, c.Set(ctx, "vs:c:d", 2, time.Minute))
	assert.True(t, c.Set(ctx, "emb:a:b", 3, time.Minute))

	assert.Equal(t, 2, c.Clear(ctx, "vs:*"))
	_, ok := c.Get(ctx, "emb:a:b")
	assert.True(t, ok, "keys outside the pattern must survive")
}

func TestRedisBatch(t *testing.T) {
	_, c := newTestRedis(t)
	ctx := context.Background()

	assert.True(t, c.MSet(ctx, []Item{
		{Key: "a", Value: "one"},
		{Key: "b", Value: "two", TTL: time.Minute},
	}))
	vals := c.MGet(ctx, []string{"a", "b", "missing"})
	require.Len(t, vals, 3)
	assert.JSONEq(t, `"one"`, string(vals[0].([]byte)))
	assert.JSONEq(t, `"two"`, string(vals[1].([]byte)))
	assert.Nil(t, vals[2])
}

func TestRedisStats(t *testing.T) {
	_, c := newTestRedis(t)
	ctx := context.Background()

	c.Set(ctx, "key", "value", time.Minute)
	c.Get(ctx, "key")
	c.Get(ctx, "missing")

	stats := c.Stats(ctx)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
	assert.Positive(t, stats.TotalKeys)
}

func TestRedisHealthy(t *testing.T) {
	_, c := newTestRedis(t)
	assert.True(t, c.Healthy(context.Background()))
}

func TestRedisHealthyAfterOutage(t *testing.T) {
	mr, c := newTestRedis(t)
	mr.Close()
	assert.False(t, c.Healthy(context.Background()))
}

func TestRedisReconnectCounted(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	ctx := context.Background()

	c := NewRedis(ctx, "redis://"+addr, logger.NewTestLogger(),
		WithPrefix("test:"),
		WithMaxRetries(1),
		WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
		WithInvalidation(false))
	require.NoError(t, c.Connect(ctx))
	defer c.Close(ctx)

	assert.True(t, c.Set(ctx, "a", 1, time.Minute))
	assert.Zero(t, c.Stats(ctx).Reconnects)

	// Drop the server, fail an op, bring it back on the same address. The
	// client re-establishes its connection transparently; Stats must show it.
	mr.Close()
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	mr2 := miniredis.NewMiniRedis()
	require.NoError(t, mr2.StartAddr(addr))
	defer mr2.Close()

	assert.True(t, c.Set(ctx, "b", 2, time.Minute))
	assert.Positive(t, c.Stats(ctx).Reconnects)
}

func TestRedisInvalidatePattern(t *testing.T) {
	_, c := newTestRedis(t)
	ctx := context.Background()

	assert.True(t, c.Set(ctx, "emb:a:b", 1, time.Minute))
	assert.True(t, c.Set(ctx, "emb:c:d", 2, time.Minute))
	assert.True(t, c.Set(ctx, "vs:a:b", 3, time.Minute))

	assert.Equal(t, 2, c.InvalidatePattern(ctx, "emb:*"))
	_, ok := c.Get(ctx, "vs:a:b")
	assert.True(t, ok, "entries outside the pattern must be unaffected")
}

func TestRedisInvalidationNotifiesOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	url := "redis://" + mr.Addr()

	a := NewRedis(ctx, url, logger.NewTestLogger(), WithPrefix("test:"))
	require.NoError(t, a.Connect(ctx))
	defer a.Close(ctx)

	b := NewRedis(ctx, url, logger.NewTestLogger(), WithPrefix("test:"))
	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	var mu sync.Mutex
	var received []Notice
	b.Subscribe(InvalidationChannel, func(n Notice) {
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
	})

	a.InvalidatePattern(ctx, "vs:*")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "vs:*", received[0].Pattern)
	assert.NotEmpty(t, received[0].Source)
	assert.Positive(t, received[0].Timestamp)
}

func TestRedisSubscribeAddsHandlers(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a := NewRedis(ctx, "redis://"+mr.Addr(), logger.NewTestLogger(), WithPrefix("test:"))
	require.NoError(t, a.Connect(ctx))
	defer a.Close(ctx)

	b := NewRedis(ctx, "redis://"+mr.Addr(), logger.NewTestLogger(), WithPrefix("test:"))
	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	var mu sync.Mutex
	calls := map[string]int{}
	b.Subscribe(InvalidationChannel, func(Notice) {
		mu.Lock()
		calls["first"]++
		mu.Unlock()
	})
	b.Subscribe(InvalidationChannel, func(Notice) {
		mu.Lock()
		calls["second"]++
		mu.Unlock()
	})

	a.InvalidatePattern(ctx, "emb:*")

	// Every previously registered handler sees the notice.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["first"] == 1 && calls["second"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisUnsubscribeRemovesWholeChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a := NewRedis(ctx, "redis://"+mr.Addr(), logger.NewTestLogger(), WithPrefix("test:"))
	require.NoError(t, a.Connect(ctx))
	defer a.Close(ctx)

	b := NewRedis(ctx, "redis://"+mr.Addr(), logger.NewTestLogger(), WithPrefix("test:"))
	require.NoError(t, b.Connect(ctx))
	defer b.Close(ctx)

	var mu sync.Mutex
	var count int
	b.Subscribe(InvalidationChannel, func(Notice) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Unsubscribe(InvalidationChannel)

	a.InvalidatePattern(ctx, "vs:*")
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "unsubscribing tears down the channel's handler set")
}
