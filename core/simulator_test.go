package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/epidemic-simulator/model"
	"github.com/signalsfoundry/epidemic-simulator/spatial"
)

func newTestSimulator(t *testing.T, cfg model.Config, opts ...Option) *Simulator {
	t.Helper()
	opts = append([]Option{WithSeed(42), WithFixedDelta(1)}, opts...)
	sim, err := NewSimulator(cfg, opts...)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	return sim
}

var alwaysInfect = InfectionFunc(func(AgentView, AgentView) float64 { return 1 })

func TestNewSimulatorRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Width = 0
	if _, err := NewSimulator(cfg); !errors.Is(err, model.ErrInvalidConfig) {
		t.Fatalf("NewSimulator: err = %v, want ErrInvalidConfig", err)
	}
}

func TestNewSimulatorClampsWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 3
	sim := newTestSimulator(t, cfg, WithWorkers(16))
	if sim.Workers() != 3 {
		t.Fatalf("Workers() = %d, want 3", sim.Workers())
	}
	sim = newTestSimulator(t, cfg, WithWorkers(-1))
	if sim.Workers() != 1 {
		t.Fatalf("Workers() = %d, want 1", sim.Workers())
	}
}

func TestAgentIDsMatchIndices(t *testing.T) {
	sim := newTestSimulator(t, testConfig(), WithWorkers(4))
	for i := 0; i < sim.Len(); i++ {
		if got := sim.Agent(i).ID; got != AgentID(i) {
			t.Fatalf("Agent(%d).ID = %d", i, got)
		}
	}
}

// One infected seed with a radius covering the whole domain and no hospital
// capacity: the outbreak burns out well within the time limit and the pool
// never holds anyone.
func TestOutbreakBurnsOutWithoutHospital(t *testing.T) {
	cfg := testConfig()
	cfg.HospitalCapacity = 0
	cfg.InfectionRadius = 200
	cfg.RecoveredPeriod = 100
	cfg.TimeLimit = 20

	sim := newTestSimulator(t, cfg, WithWorkers(4), WithInfectionPolicy(alwaysInfect))
	if err := sim.Prepare(func(a *Agent) {
		if a.ID() == 0 {
			a.SetHealth(Infected(3))
		}
	}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	ctx := context.Background()
	for !sim.Done() {
		if err := sim.Step(ctx); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if sim.HospitalCount() != 0 {
			t.Fatalf("tick %d: HospitalCount() = %d, want 0", sim.CurrentTime(), sim.HospitalCount())
		}
		if got := sim.LastStep().Admission.Admitted; got != 0 {
			t.Fatalf("tick %d: admitted %d with zero capacity", sim.CurrentTime(), got)
		}
	}
	if sim.CurrentTime() != cfg.TimeLimit {
		t.Fatalf("CurrentTime() = %d, want %d", sim.CurrentTime(), cfg.TimeLimit)
	}

	census := sim.LastStep().Census
	if census.Infected != 0 {
		t.Fatalf("%d agents still infected", census.Infected)
	}
	if census.Susceptible != 0 {
		t.Fatalf("%d agents never infected", census.Susceptible)
	}
	if census.Recovered+census.Dead != cfg.PopulationSize {
		t.Fatalf("census %+v does not account for population %d", census, cfg.PopulationSize)
	}
}

func TestAdmissionPassStopsAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 100
	cfg.InitialInfected = 1
	cfg.InfectedPeriod = 10
	cfg.HospitalCapacity = 5
	cfg.TestsPerTick = 100

	sim := newTestSimulator(t, cfg, WithWorkers(4))
	if err := sim.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}

	adm := sim.LastStep().Admission
	if adm.Tests != 100 || adm.Positive != 100 {
		t.Fatalf("admission stats %+v, want 100 tests all positive", adm)
	}
	if adm.Admitted != 5 {
		t.Fatalf("Admitted = %d, want 5", adm.Admitted)
	}
	if adm.Admitted+adm.Full+adm.AlreadyAdmitted != adm.Positive {
		t.Fatalf("admission outcomes %+v do not add up", adm)
	}
	if sim.HospitalCount() != 5 {
		t.Fatalf("HospitalCount() = %d, want 5", sim.HospitalCount())
	}
	if err := sim.Pool().TryAdmit(AgentID(cfg.PopulationSize), 1); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("TryAdmit after pass: err = %v, want ErrPoolFull", err)
	}

	occupied := 0
	sim.ForEach(func(v AgentView) {
		if !v.Occupancy.Occupied {
			return
		}
		occupied++
		if v.Mobile {
			t.Errorf("agent %d occupied but mobile", v.ID)
		}
		if !sim.Pool().Contains(v.ID) {
			t.Errorf("agent %d occupied but not on the roster", v.ID)
		}
	})
	if occupied != 5 {
		t.Fatalf("%d agents occupied, want 5", occupied)
	}
}

func TestOccupancyMirrorsRoster(t *testing.T) {
	cfg := testConfig()
	cfg.InitialInfected = 0.5
	cfg.InfectionRadius = 8
	cfg.HospitalPeriod = 2
	cfg.TimeLimit = 30

	sim := newTestSimulator(t, cfg, WithWorkers(3))
	admitted := 0
	for !sim.Done() {
		if err := sim.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
		admitted += sim.LastStep().Admission.Admitted
		sim.ForEach(func(v AgentView) {
			days, held := sim.Pool().Remaining(v.ID)
			if held != v.Occupancy.Occupied {
				t.Fatalf("tick %d: agent %d occupied=%v but on roster=%v", sim.CurrentTime(), v.ID, v.Occupancy.Occupied, held)
			}
			if held && days != v.Occupancy.Days {
				t.Fatalf("tick %d: agent %d occupancy %d days, roster %d", sim.CurrentTime(), v.ID, v.Occupancy.Days, days)
			}
		})
	}
	if admitted <= cfg.HospitalCapacity {
		t.Fatalf("only %d admissions over the run; discharges never freed a slot", admitted)
	}
}

func TestCensusAccountsForPopulation(t *testing.T) {
	cfg := testConfig()
	cfg.InitialInfected = 0.2
	cfg.InfectionRadius = 15
	cfg.InfectedPeriod = 2
	cfg.RecoveredPeriod = 2

	sim := newTestSimulator(t, cfg, WithWorkers(3))
	for !sim.Done() {
		if err := sim.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
		c := sim.LastStep().Census
		if total := c.Susceptible + c.Infected + c.Recovered + c.Dead; total != cfg.PopulationSize {
			t.Fatalf("tick %d: census %+v sums to %d", sim.CurrentTime(), c, total)
		}
		if c.Hospitalized != sim.HospitalCount() {
			t.Fatalf("tick %d: census hospitalized %d, pool count %d", sim.CurrentTime(), c.Hospitalized, sim.HospitalCount())
		}
		if c.Hospitalized > cfg.HospitalCapacity {
			t.Fatalf("tick %d: %d hospitalized exceeds capacity", sim.CurrentTime(), c.Hospitalized)
		}
		sim.ForEach(func(v AgentView) {
			if !cfg.Bounds().Contains(v.Position) {
				t.Fatalf("agent %d left the domain: %v", v.ID, v.Position)
			}
			if v.Health.Status == StatusDead && (v.Mobile || v.Occupancy.Occupied) {
				t.Fatalf("dead agent %d is mobile=%v occupied=%v", v.ID, v.Mobile, v.Occupancy.Occupied)
			}
		})
	}
}

func TestStepIsIndependentOfWorkerCount(t *testing.T) {
	cfg := testConfig()
	cfg.InitialInfected = 0.1
	cfg.InfectionRadius = 10
	cfg.Distancing = true

	run := func(workers int) []AgentView {
		sim := newTestSimulator(t, cfg, WithWorkers(workers))
		if err := sim.Run(context.Background()); err != nil {
			t.Fatalf("Run with %d workers: %v", workers, err)
		}
		return sim.Snapshot()
	}

	want := run(1)
	for _, workers := range []int{2, 3, 8} {
		got := run(workers)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("workers=%d: agent %d = %+v, want %+v", workers, i, got[i], want[i])
			}
		}
	}
}

func TestStepRejectsAgentOutsideDomain(t *testing.T) {
	sim := newTestSimulator(t, testConfig())
	if err := sim.Prepare(func(a *Agent) {
		if a.ID() == 3 {
			a.SetPosition(model.Vec2{X: -5, Y: 10})
		}
	}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	err := sim.Step(context.Background())
	if !errors.Is(err, spatial.ErrOutOfBounds) {
		t.Fatalf("Step: err = %v, want ErrOutOfBounds", err)
	}
	if sim.CurrentTime() != 0 {
		t.Fatalf("CurrentTime() = %d after failed step, want 0", sim.CurrentTime())
	}
}

func TestStepFailsOnPolicyError(t *testing.T) {
	boom := errors.New("boom")
	failing := survivalErrFunc(func(AgentView) (float64, error) { return 0, boom })

	sim := newTestSimulator(t, testConfig(), WithSurvivalPolicy(failing), WithWorkers(4))
	_ = sim.Prepare(func(a *Agent) {
		if a.ID() == 7 {
			a.SetHealth(Infected(0))
		}
	})
	if err := sim.Step(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Step: err = %v, want wrapped boom", err)
	}
}

func TestStepRejectsOutOfRangeInfectionChance(t *testing.T) {
	cfg := testConfig()
	cfg.InfectionRadius = 200
	bad := InfectionFunc(func(AgentView, AgentView) float64 { return 1.5 })

	sim := newTestSimulator(t, cfg, WithInfectionPolicy(bad))
	_ = sim.Prepare(func(a *Agent) {
		if a.ID() == 0 {
			a.SetHealth(Infected(3))
		}
	})
	if err := sim.Step(context.Background()); !errors.Is(err, ErrPolicyOutOfRange) {
		t.Fatalf("Step: err = %v, want ErrPolicyOutOfRange", err)
	}
}

func TestPrepareAfterStartFails(t *testing.T) {
	sim := newTestSimulator(t, testConfig())
	if err := sim.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if err := sim.Prepare(func(*Agent) {}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Prepare: err = %v, want ErrAlreadyStarted", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.TimeLimit = 1000
	sim := newTestSimulator(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sim.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: err = %v, want context.Canceled", err)
	}
}

type recordingMetrics struct {
	mu     sync.Mutex
	phases map[string]int
	steps  []StepStats
}

func (r *recordingMetrics) ObservePhase(phase string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phases == nil {
		r.phases = make(map[string]int)
	}
	r.phases[phase]++
}

func (r *recordingMetrics) ObserveStep(stats StepStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, stats)
}

func TestStepReportsMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.TimeLimit = 4
	rec := &recordingMetrics{}
	sim := newTestSimulator(t, cfg, WithMetrics(rec))
	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, phase := range []string{PhaseIndex, PhaseInteraction, PhaseAdmission, PhaseTransition} {
		if rec.phases[phase] != cfg.TimeLimit {
			t.Fatalf("phase %q observed %d times, want %d", phase, rec.phases[phase], cfg.TimeLimit)
		}
	}
	if len(rec.steps) != cfg.TimeLimit {
		t.Fatalf("observed %d steps, want %d", len(rec.steps), cfg.TimeLimit)
	}
	for i, st := range rec.steps {
		if st.Tick != i+1 {
			t.Fatalf("step %d reported tick %d", i, st.Tick)
		}
	}
}

func TestClockDrivesRepulsionDelta(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }

	sim, err := NewSimulator(testConfig(), WithSeed(1), WithClock(clock))
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	now = now.Add(2 * time.Second)
	if d := sim.frameDelta(); d != 2 {
		t.Fatalf("first frameDelta = %g, want 2 (time since construction)", d)
	}
	now = now.Add(250 * time.Millisecond)
	if d := sim.frameDelta(); d != 0.25 {
		t.Fatalf("frameDelta = %g, want 0.25", d)
	}
}

func TestAdmissionPassHonoursCancellation(t *testing.T) {
	cfg := testConfig()
	sim := newTestSimulator(t, cfg)
	if err := sim.Prepare(func(a *Agent) { a.SetHealth(Infected(cfg.InfectedPeriod)) }); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := sim.admit(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("admit: err = %v, want context.Canceled", err)
	}
	if stats.Tests != 0 || sim.HospitalCount() != 0 {
		t.Fatalf("cancelled admission ran: stats %+v, hospital %d", stats, sim.HospitalCount())
	}
}

func TestPhaseReturnsError(t *testing.T) {
	rec := &recordingMetrics{}
	sim := newTestSimulator(t, testConfig(), WithMetrics(rec))
	boom := errors.New("boom")

	err := sim.phase(context.Background(), PhaseAdmission, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("phase: err = %v, want %v", err, boom)
	}
	if rec.phases[PhaseAdmission] != 1 {
		t.Fatalf("failed phase observed %d times, want 1", rec.phases[PhaseAdmission])
	}
}
