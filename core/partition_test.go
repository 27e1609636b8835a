package core

import (
	"context"
	"testing"
)

func TestSplitRanges(t *testing.T) {
	cases := []struct {
		n, workers int
		want       []Range
	}{
		{n: 10, workers: 2, want: []Range{{0, 5}, {5, 10}}},
		{n: 10, workers: 3, want: []Range{{0, 4}, {4, 7}, {7, 10}}},
		{n: 3, workers: 3, want: []Range{{0, 1}, {1, 2}, {2, 3}}},
		{n: 0, workers: 1, want: []Range{{0, 0}}},
		{n: 5, workers: 0, want: []Range{{0, 5}}},
	}
	for _, tc := range cases {
		got := splitRanges(tc.n, tc.workers)
		if len(got) != len(tc.want) {
			t.Fatalf("splitRanges(%d, %d) = %v, want %v", tc.n, tc.workers, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("splitRanges(%d, %d)[%d] = %v, want %v", tc.n, tc.workers, i, got[i], tc.want[i])
			}
		}
	}
}

func TestSplitRangesCoversPopulationExactlyOnce(t *testing.T) {
	for n := 0; n < 60; n++ {
		for workers := 1; workers <= 9; workers++ {
			ranges := splitRanges(n, workers)
			next := 0
			minLen, maxLen := n, 0
			for _, r := range ranges {
				if r.Start != next {
					t.Fatalf("n=%d workers=%d: gap or overlap at %v", n, workers, r)
				}
				next = r.End
				minLen = min(minLen, r.Len())
				maxLen = max(maxLen, r.Len())
			}
			if next != n {
				t.Fatalf("n=%d workers=%d: ranges end at %d", n, workers, next)
			}
			if maxLen-minLen > 1 {
				t.Fatalf("n=%d workers=%d: unbalanced ranges %v", n, workers, ranges)
			}
		}
	}
}

func TestPartitionViewIsCapped(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 10
	sim, err := NewSimulator(cfg, WithWorkers(3), WithSeed(1))
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	seen := make([]int, sim.Len())
	err = sim.forEachPartition(testContext(t), func(_ context.Context, p partition) error {
		if cap(p.agents) != p.Len() {
			t.Errorf("worker %d: cap = %d, want %d", p.worker, cap(p.agents), p.Len())
		}
		for i := range p.agents {
			seen[int(p.agents[i].ID())]++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("forEachPartition: %v", err)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("agent %d visited %d times, want 1", id, n)
		}
	}
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
