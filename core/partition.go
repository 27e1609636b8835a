package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Range is a half-open interval [Start, End) of population indices.
type Range struct {
	Start, End int
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.End - r.Start }

// splitRanges divides [0, n) into workers contiguous ranges whose lengths
// differ by at most one. The first n%workers ranges take the extra index.
func splitRanges(n, workers int) []Range {
	if workers < 1 {
		workers = 1
	}
	ranges := make([]Range, workers)
	base, extra := n/workers, n%workers
	start := 0
	for w := range ranges {
		size := base
		if w < extra {
			size++
		}
		ranges[w] = Range{Start: start, End: start + size}
		start += size
	}
	return ranges
}

// partition is the exclusive mutable view a worker receives over its own
// range. The agents slice is capped at the range end, so appends or
// re-slicing can never reach a neighbouring partition.
type partition struct {
	worker int
	Range
	agents []Agent
}

// forEachPartition runs fn once per partition, each on its own goroutine,
// and blocks until all of them return. The first error cancels ctx for the
// remaining workers and is returned.
func (s *Simulator) forEachPartition(ctx context.Context, fn func(ctx context.Context, p partition) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for w, r := range s.partitions {
		p := partition{
			worker: w,
			Range:  r,
			agents: s.population[r.Start:r.End:r.End],
		}
		g.Go(func() error {
			return fn(ctx, p)
		})
	}
	return g.Wait()
}
