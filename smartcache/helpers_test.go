package smartcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/roborail/cachekit/cache"
	"github.com/roborail/cachekit/logger"
)

func miniredisBackend(t *testing.T) cache.Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.NewRedis(context.Background(), "redis://"+mr.Addr(), logger.NewTestLogger(),
		cache.WithPrefix("test:"),
		cache.WithMaxRetries(1),
		cache.WithRetryBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}
