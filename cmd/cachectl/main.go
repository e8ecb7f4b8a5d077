// cachectl is an operational CLI for the RoboRail cache: health probes,
// stats, and pattern invalidation against whichever backend the environment
// selects.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/roborail/cachekit/logger"
	"github.com/roborail/cachekit/smartcache"
)

var (
	redisURL  string
	keyPrefix string
	logLevel  string
)

func newLogger() logger.Logger {
	switch logLevel {
	case "trace":
		return logger.NewConsoleLogger(logger.LevelTrace)
	case "debug":
		return logger.NewConsoleLogger(logger.LevelDebug)
	case "warn":
		return logger.NewConsoleLogger(logger.LevelWarn)
	case "error":
		return logger.NewConsoleLogger(logger.LevelError)
	}
	return logger.NewConsoleLogger(logger.LevelInfo)
}

func newRegistry(ctx context.Context) *smartcache.Registry {
	cfg := smartcache.FromEnv()
	if redisURL != "" {
		cfg.Backend = smartcache.BackendRedis
		cfg.RedisURL = redisURL
	}
	if keyPrefix != "" {
		cfg.KeyPrefix = keyPrefix
	}
	return smartcache.NewRegistry(ctx, cfg, newLogger())
}

func main() {
	root := &cobra.Command{
		Use:   "cachectl",
		Short: "Inspect and manage the RoboRail cache",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Best effort; a missing .env is fine.
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVar(&redisURL, "redis-url", "", "redis connection string (overrides REDIS_URL)")
	root.PersistentFlags().StringVar(&keyPrefix, "prefix", "", "key prefix (overrides CACHE_KEY_PREFIX)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Run a write/read/delete round trip against the backend",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			r := newRegistry(ctx)
			defer r.Reset(ctx)
			if !r.Backend(ctx).Healthy(ctx) {
				fmt.Fprintln(os.Stderr, "unhealthy")
				os.Exit(1)
			}
			fmt.Println("healthy")
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print backend statistics as JSON",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			r := newRegistry(ctx)
			defer r.Reset(ctx)
			stats := r.Backend(ctx).Stats(ctx)
			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "error encoding stats: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(out))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "clear [pattern]",
		Short: "Invalidate entries matching a glob pattern (default: all)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			pattern := "*"
			if len(args) > 0 {
				pattern = args[0]
			}
			ctx := cmd.Context()
			r := newRegistry(ctx)
			defer r.Reset(ctx)
			removed := r.Smart(ctx).InvalidatePattern(ctx, pattern)
			fmt.Printf("removed %d entries\n", removed)
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
