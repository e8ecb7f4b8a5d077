package smartcache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// WarmQuery is one representative vector-search descriptor to pre-load.
// Higher-priority queries are warmed first.
type WarmQuery struct {
	Query    string         `json:"query"`
	Sources  []string       `json:"sources,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
	Priority int            `json:"priority"`
}

// WarmResult reports the outcome of warming one query.
type WarmResult struct {
	Query     string
	FromCache bool
	Duration  time.Duration
	Err       error
}

// SearchExecutor runs the real vector search for a warm-up descriptor.
type SearchExecutor func(ctx context.Context, q WarmQuery) (any, error)

const warmConcurrency = 4

// Warm pre-loads the cache by running the cache-aside path for each
// descriptor, so real traffic starts hot. Queries run with bounded
// concurrency in priority order; one failing query does not stop the rest.
func Warm(ctx context.Context, sc *SmartCache, queries []WarmQuery, exec SearchExecutor) []WarmResult {
	sorted := make([]WarmQuery, len(queries))
	copy(sorted, queries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	results := make([]WarmResult, len(sorted))
	sem := make(chan struct{}, warmConcurrency)
	var wg sync.WaitGroup
	for i, q := range sorted {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, q WarmQuery) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = warmOne(ctx, sc, q, exec)
		}(i, q)
	}
	wg.Wait()
	return results
}

func warmOne(ctx context.Context, sc *SmartCache, q WarmQuery, exec SearchExecutor) WarmResult {
	start := time.Now()
	res := WarmResult{Query: q.Query}
	if _, ok := sc.GetCachedVectorSearch(ctx, q.Query, q.Sources, q.Options); ok {
		res.FromCache = true
		res.Duration = time.Since(start)
		return res
	}
	result, err := exec(ctx, q)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	if worthCaching(result) {
		sc.CacheVectorSearch(ctx, q.Query, q.Sources, q.Options, result)
	}
	res.Duration = time.Since(start)
	return res
}
