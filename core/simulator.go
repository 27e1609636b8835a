package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/epidemic-simulator/internal/logging"
	"github.com/signalsfoundry/epidemic-simulator/model"
	"github.com/signalsfoundry/epidemic-simulator/spatial"
)

// ErrAlreadyStarted indicates a setup operation was attempted after the
// first tick.
var ErrAlreadyStarted = errors.New("simulation already started")

// Phase names reported to the metrics recorder and used as span names.
const (
	PhaseIndex       = "index"
	PhaseInteraction = "interaction"
	PhaseAdmission   = "admission"
	PhaseTransition  = "transition"
)

const tracerName = "github.com/signalsfoundry/epidemic-simulator/core"

// Census counts agents per health state at the end of a tick.
type Census struct {
	Susceptible  int
	Infected     int
	Recovered    int
	Dead         int
	Hospitalized int
}

func (c *Census) add(o Census) {
	c.Susceptible += o.Susceptible
	c.Infected += o.Infected
	c.Recovered += o.Recovered
	c.Dead += o.Dead
	c.Hospitalized += o.Hospitalized
}

func (c *Census) count(a *Agent) {
	switch a.health.Status {
	case StatusSusceptible:
		c.Susceptible++
	case StatusInfected:
		c.Infected++
	case StatusRecovered:
		c.Recovered++
	case StatusDead:
		c.Dead++
	}
	if a.occupancy.Occupied {
		c.Hospitalized++
	}
}

// AdmissionStats summarises one admission pass.
type AdmissionStats struct {
	Tests           int
	Positive        int
	Admitted        int
	Full            int
	AlreadyAdmitted int
}

// StepStats summarises one completed tick.
type StepStats struct {
	Tick          int
	NewInfections int
	Census        Census
	Admission     AdmissionStats
	Duration      time.Duration
}

// MetricsRecorder receives per-phase timings and per-tick summaries.
type MetricsRecorder interface {
	ObservePhase(phase string, d time.Duration)
	ObserveStep(stats StepStats)
}

// Simulator owns the population and the resource pool and advances them
// one tick at a time.
type Simulator struct {
	cfg model.Config

	population []Agent
	partitions []Range
	pool       *ResourcePool

	tick int
	seed int64
	rng  *rand.Rand

	survival  SurvivalPolicy
	infection InfectionPolicy
	ages      AgeSampler

	workers    int
	fixedDelta float64
	clock      func() time.Time
	lastFrame  time.Time

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	// Per-worker accumulators, each written only by its own worker.
	infections []int
	censuses   []Census

	items []spatial.Item[AgentView]
	last  StepStats
}

// Option customises Simulator construction.
type Option func(*Simulator)

// WithWorkers sets the number of partitions. It is clamped to
// [1, population size].
func WithWorkers(n int) Option {
	return func(s *Simulator) { s.workers = n }
}

// WithSeed fixes the simulator's random seed, overriding the config seed.
func WithSeed(seed int64) Option {
	return func(s *Simulator) { s.seed = seed }
}

// WithSurvivalPolicy injects the survival chance policy.
func WithSurvivalPolicy(p SurvivalPolicy) Option {
	return func(s *Simulator) { s.survival = p }
}

// WithInfectionPolicy injects the infection chance policy.
func WithInfectionPolicy(p InfectionPolicy) Option {
	return func(s *Simulator) { s.infection = p }
}

// WithAgeSampler injects the demographic age sampler.
func WithAgeSampler(a AgeSampler) Option {
	return func(s *Simulator) { s.ages = a }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulator) { s.log = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Simulator) { s.metrics = m }
}

// WithTracer overrides the tracer used for tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Simulator) { s.tracer = t }
}

// WithFixedDelta makes every tick use dt seconds as the elapsed time that
// scales repulsion forces, instead of measuring wall-clock time.
func WithFixedDelta(dt float64) Option {
	return func(s *Simulator) { s.fixedDelta = dt }
}

// WithClock replaces the wall clock used to measure elapsed time per tick.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.clock = now }
}

// NewSimulator validates cfg, creates the population and partitions it
// across the configured number of workers.
func NewSimulator(cfg model.Config, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RepulsionCoefficient == 0 {
		cfg.RepulsionCoefficient = model.DefaultRepulsionCoefficient
	}

	s := &Simulator{
		cfg:     cfg,
		seed:    cfg.Seed,
		workers: runtime.NumCPU(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seed == 0 {
		s.seed = time.Now().UnixNano()
	}
	if s.survival == nil {
		s.survival = DefaultSurvival
	}
	if s.infection == nil {
		s.infection = DefaultInfection
	}
	if s.ages == nil {
		s.ages = uniformAges
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.workers > cfg.PopulationSize {
		s.workers = cfg.PopulationSize
	}
	if s.workers < 1 {
		s.workers = 1
	}

	s.lastFrame = s.clock()
	s.rng = rand.New(rand.NewSource(s.seed))
	s.population = make([]Agent, cfg.PopulationSize)
	for i := range s.population {
		a, err := NewAgent(AgentID(i), &s.cfg, s.ages, s.rng.Int63())
		if err != nil {
			return nil, fmt.Errorf("create agent %d: %w", i, err)
		}
		s.population[i] = *a
	}

	s.partitions = splitRanges(len(s.population), s.workers)
	s.pool = NewResourcePool(cfg.HospitalCapacity)
	s.infections = make([]int, s.workers)
	s.censuses = make([]Census, s.workers)
	s.items = make([]spatial.Item[AgentView], len(s.population))
	s.last.Census = s.census()

	s.log.Info(context.Background(), "simulator initialised",
		logging.Int("population", len(s.population)),
		logging.Int("workers", s.workers),
		logging.Int("hospital_capacity", cfg.HospitalCapacity),
		logging.Int("time_limit", cfg.TimeLimit),
		logging.Any("seed", s.seed),
	)
	return s, nil
}

// Prepare hands every agent to fn for scenario setup. It is only allowed
// before the first tick.
func (s *Simulator) Prepare(fn func(a *Agent)) error {
	if s.tick > 0 {
		return ErrAlreadyStarted
	}
	for i := range s.population {
		fn(&s.population[i])
	}
	s.last.Census = s.census()
	return nil
}

// Step advances the simulation by exactly one tick. An error aborts the run:
// it is either an agent outside the domain or a failing policy.
func (s *Simulator) Step(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tracer.Start(ctx, "simulator.step",
		trace.WithAttributes(attribute.Int("tick", s.tick)))
	defer span.End()

	start := time.Now()
	delta := s.frameDelta()

	stats, err := s.step(ctx, delta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error(ctx, "simulation step failed",
			logging.Int("tick", s.tick),
			logging.String("error", err.Error()),
		)
		return fmt.Errorf("tick %d: %w", s.tick, err)
	}

	s.tick++
	stats.Tick = s.tick
	stats.Duration = time.Since(start)
	s.last = stats

	span.SetAttributes(
		attribute.Int("infected", stats.Census.Infected),
		attribute.Int("hospitalized", stats.Census.Hospitalized),
		attribute.Int("new_infections", stats.NewInfections),
	)
	if s.metrics != nil {
		s.metrics.ObserveStep(stats)
	}
	s.log.Debug(ctx, "tick complete",
		logging.Int("tick", s.tick),
		logging.Int("susceptible", stats.Census.Susceptible),
		logging.Int("infected", stats.Census.Infected),
		logging.Int("recovered", stats.Census.Recovered),
		logging.Int("dead", stats.Census.Dead),
		logging.Int("hospitalized", stats.Census.Hospitalized),
		logging.Int("admitted", stats.Admission.Admitted),
	)
	return nil
}

func (s *Simulator) step(ctx context.Context, delta float64) (StepStats, error) {
	var stats StepStats

	var index *spatial.Quadtree[AgentView]
	err := s.phase(ctx, PhaseIndex, func(context.Context) error {
		var err error
		index, err = s.buildIndex()
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("build index: %w", err)
	}

	err = s.phase(ctx, PhaseInteraction, func(ctx context.Context) error {
		return s.forEachPartition(ctx, func(ctx context.Context, p partition) error {
			return s.interact(ctx, p, index, delta)
		})
	})
	if err != nil {
		return stats, fmt.Errorf("interaction pass: %w", err)
	}
	for _, n := range s.infections {
		stats.NewInfections += n
	}

	err = s.phase(ctx, PhaseAdmission, func(ctx context.Context) error {
		var err error
		stats.Admission, err = s.admit(ctx)
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("admission pass: %w", err)
	}

	err = s.phase(ctx, PhaseTransition, func(ctx context.Context) error {
		return s.forEachPartition(ctx, s.transition)
	})
	if err != nil {
		return stats, fmt.Errorf("transition pass: %w", err)
	}
	s.pool.Tick()

	for _, c := range s.censuses {
		stats.Census.add(c)
	}
	return stats, nil
}

// phase wraps one stage of a tick in a child span and reports its duration.
func (s *Simulator) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "simulator."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.ObservePhase(name, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// buildIndex snapshots every agent into a fresh quadtree. Neighbours are
// only ever read through this snapshot, so workers never observe another
// partition's writes within a tick.
func (s *Simulator) buildIndex() (*spatial.Quadtree[AgentView], error) {
	for i := range s.population {
		v := s.population[i].View()
		s.items[i] = spatial.Item[AgentView]{Pos: v.Position, Value: v}
	}
	return spatial.Build(s.cfg.Bounds(), s.items)
}

// interact applies distancing forces and transmission to every agent in p.
func (s *Simulator) interact(ctx context.Context, p partition, index *spatial.Quadtree[AgentView], delta float64) error {
	infections := 0
	defer func() { s.infections[p.worker] = infections }()

	var neighbours []spatial.Item[AgentView]
	coef := s.cfg.RepulsionCoefficient * delta
	for i := range p.agents {
		if err := ctx.Err(); err != nil {
			return err
		}
		a := &p.agents[i]
		neighbours = index.QueryInto(neighbours[:0], a.position, s.cfg.InfectionRadius)
		for _, n := range neighbours {
			other := n.Value
			if other.ID == a.id {
				continue
			}
			if s.cfg.Distancing {
				a.ApplyForce(a.position.Sub(other.Position).Scale(coef))
			}
			if other.Health.Status != StatusInfected || a.health.Status != StatusSusceptible {
				continue
			}
			chance, err := infectionChance(s.infection, other, a.View())
			if err != nil {
				return err
			}
			if a.rng.Float64() < chance && a.Infect() {
				infections++
			}
		}
	}
	return nil
}

// admit runs the serialized admission pass. The pool stays locked for the
// whole pass and agents are picked from the simulator's own stream, so the
// outcome depends only on the seed.
func (s *Simulator) admit(ctx context.Context) (AdmissionStats, error) {
	var stats AdmissionStats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if len(s.population) == 0 {
		return stats, nil
	}
	s.pool.Session(func(sess *AdmissionSession) {
		for i := 0; i < s.cfg.TestsPerTick; i++ {
			a := &s.population[s.rng.Intn(len(s.population))]
			stats.Tests++
			if !a.Test() {
				continue
			}
			stats.Positive++
			switch err := sess.TryAdmit(a.id, s.cfg.HospitalPeriod); {
			case err == nil:
				a.Occupy(s.cfg.HospitalPeriod)
				stats.Admitted++
			case errors.Is(err, ErrPoolFull):
				stats.Full++
			case errors.Is(err, ErrAlreadyAdmitted):
				stats.AlreadyAdmitted++
			}
		}
	})
	return stats, nil
}

// transition advances state machines and motion for every agent in p.
func (s *Simulator) transition(ctx context.Context, p partition) error {
	var census Census
	for i := range p.agents {
		if err := ctx.Err(); err != nil {
			return err
		}
		a := &p.agents[i]
		if err := a.UpdateStatus(s.survival, s.pool); err != nil {
			return err
		}
		a.UpdateMovement()
		census.count(a)
	}
	s.censuses[p.worker] = census
	return nil
}

func (s *Simulator) frameDelta() float64 {
	if s.fixedDelta > 0 {
		return s.fixedDelta
	}
	now := s.clock()
	delta := now.Sub(s.lastFrame).Seconds()
	s.lastFrame = now
	return delta
}

func (s *Simulator) census() Census {
	var c Census
	for i := range s.population {
		c.count(&s.population[i])
	}
	return c
}

// Run steps the simulation until Done or ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Done reports whether the configured time limit has been reached.
func (s *Simulator) Done() bool {
	return s.tick >= s.cfg.TimeLimit
}

// CurrentTime returns the number of completed ticks.
func (s *Simulator) CurrentTime() int {
	return s.tick
}

// Config returns the run configuration.
func (s *Simulator) Config() model.Config {
	return s.cfg
}

// Seed returns the seed of the simulator's random stream.
func (s *Simulator) Seed() int64 {
	return s.seed
}

// Workers returns the number of partitions.
func (s *Simulator) Workers() int {
	return s.workers
}

// Partitions returns a copy of the static index ranges, one per worker.
func (s *Simulator) Partitions() []Range {
	out := make([]Range, len(s.partitions))
	copy(out, s.partitions)
	return out
}

// Pool returns the resource pool.
func (s *Simulator) Pool() *ResourcePool {
	return s.pool
}

// HospitalCount returns the number of occupied resource slots.
func (s *Simulator) HospitalCount() int {
	return s.pool.Count()
}

// Len returns the population size.
func (s *Simulator) Len() int {
	return len(s.population)
}

// Agent returns a view of the agent at index i.
func (s *Simulator) Agent(i int) AgentView {
	return s.population[i].View()
}

// ForEach calls fn with a view of every agent in index order.
func (s *Simulator) ForEach(fn func(AgentView)) {
	for i := range s.population {
		fn(s.population[i].View())
	}
}

// Snapshot returns views of the whole population.
func (s *Simulator) Snapshot() []AgentView {
	out := make([]AgentView, len(s.population))
	for i := range s.population {
		out[i] = s.population[i].View()
	}
	return out
}

// LastStep returns the summary of the most recent tick. Before the first
// tick only Census is populated.
func (s *Simulator) LastStep() StepStats {
	return s.last
}
