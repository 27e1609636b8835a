package timectrl

import (
	"context"
	"sync"
	"time"
)

// Stepper is anything that advances in discrete ticks until it is done.
// *core.Simulator satisfies it.
type Stepper interface {
	Step(ctx context.Context) error
	Done() bool
}

// Mode describes how the TickController paces steps.
type Mode int

const (
	// RealTime waits Interval of wall-clock time before every step.
	RealTime Mode = iota
	// Accelerated steps as quickly as the loop can run.
	Accelerated
)

// Listener is invoked after every completed step with the number of steps
// completed so far and the simulated time reached.
type Listener func(tick int, now time.Time)

// TickController drives a Stepper and keeps a simulated calendar: every
// step advances simulated time by Tick.
type TickController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// Interval is the wall-clock pause between steps in RealTime mode.
	// Zero falls back to Tick.
	Interval time.Duration

	currentTime time.Time
	ticks       int

	listeners []Listener
}

// NewTickController constructs a controller whose simulated clock starts at
// start and advances by tick per step.
func NewTickController(start time.Time, tick time.Duration, mode Mode) *TickController {
	return &TickController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulated time.
func (tc *TickController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the simulated clock to t without stepping.
func (tc *TickController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// Ticks returns the number of steps completed.
func (tc *TickController) Ticks() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// AddListener registers a callback invoked after every step.
func (tc *TickController) AddListener(fn Listener) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run steps s until it reports Done, ctx is cancelled, or a step fails.
func (tc *TickController) Run(ctx context.Context, s Stepper) error {
	var pace <-chan time.Time
	if tc.Mode == RealTime {
		interval := tc.Interval
		if interval <= 0 {
			interval = tc.Tick
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pace = ticker.C
	}

	for !s.Done() {
		if pace != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pace:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.Step(ctx); err != nil {
			return err
		}

		tc.mu.Lock()
		tc.ticks++
		tc.currentTime = tc.currentTime.Add(tc.Tick)
		n, now := tc.ticks, tc.currentTime
		listeners := tc.listeners
		tc.mu.Unlock()

		for _, fn := range listeners {
			fn(n, now)
		}
	}
	return nil
}

// Start runs s in a separate goroutine. The returned channel receives the
// result of Run and is then closed.
func (tc *TickController) Start(ctx context.Context, s Stepper) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- tc.Run(ctx, s)
	}()
	return done
}
