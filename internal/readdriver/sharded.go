package readdriver

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ShardResult is one shard query's outcome.
type ShardResult struct {
	Index int
	Rows  []Row
	Err   error
}

// RunSharded fans a list of independent reads out over bounded concurrency
//, using
// errgroup.Group.SetLimit the way the pack's puller/sorter pipelines bound
// their fan-out concurrency.
func RunSharded(ctx context.Context, shards int, run func(ctx context.Context, i int) ([]Row, error)) []ShardResult {
	const maxConcurrency = 10

	results := make([]ShardResult, shards)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i := 0; i < shards; i++ {
		i := i
		g.Go(func() error {
			rows, err := run(gctx, i)
			results[i] = ShardResult{Index: i, Rows: rows, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
