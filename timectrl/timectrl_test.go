package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingStepper struct {
	steps, limit int
	failAt       int
	err          error
}

func (c *countingStepper) Step(context.Context) error {
	if c.failAt > 0 && c.steps+1 == c.failAt {
		return c.err
	}
	c.steps++
	return nil
}

func (c *countingStepper) Done() bool { return c.steps >= c.limit }

func TestTickControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTickController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTickControllerRunAdvancesClock(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTickController(start, 24*time.Hour, Accelerated)

	var seen []int
	tc.AddListener(func(tick int, now time.Time) {
		seen = append(seen, tick)
		if want := start.Add(time.Duration(tick) * 24 * time.Hour); !now.Equal(want) {
			t.Errorf("listener tick %d at %v, want %v", tick, now, want)
		}
	})

	s := &countingStepper{limit: 5}
	if err := tc.Run(context.Background(), s); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.steps != 5 || tc.Ticks() != 5 {
		t.Fatalf("steps = %d, Ticks() = %d, want 5", s.steps, tc.Ticks())
	}
	if len(seen) != 5 || seen[0] != 1 || seen[4] != 5 {
		t.Fatalf("listener saw %v", seen)
	}
	if got, want := tc.Now(), start.Add(5*24*time.Hour); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestTickControllerRealTimePacing(t *testing.T) {
	tc := NewTickController(time.Time{}, time.Hour, RealTime)
	tc.Interval = 5 * time.Millisecond

	s := &countingStepper{limit: 3}
	began := time.Now()
	if err := tc.Run(context.Background(), s); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(began); elapsed < 15*time.Millisecond {
		t.Fatalf("three paced steps took %v, want >= 15ms", elapsed)
	}
}

func TestTickControllerStopsOnStepError(t *testing.T) {
	boom := errors.New("boom")
	tc := NewTickController(time.Time{}, time.Second, Accelerated)
	s := &countingStepper{limit: 10, failAt: 4, err: boom}

	if err := tc.Run(context.Background(), s); !errors.Is(err, boom) {
		t.Fatalf("Run: err = %v, want boom", err)
	}
	if tc.Ticks() != 3 {
		t.Fatalf("Ticks() = %d, want 3", tc.Ticks())
	}
}

func TestTickControllerStartHonoursCancellation(t *testing.T) {
	tc := NewTickController(time.Time{}, time.Hour, RealTime)
	tc.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := tc.Start(ctx, &countingStepper{limit: 1})
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Start: err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("controller did not stop after cancellation")
	}
}
