package core

import (
	"math"
	"math/rand"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

// AgentID is the stable identity of an agent for the whole run. It equals
// the agent's index in the simulator's population.
type AgentID int

// AgentView is an immutable copy of the externally visible agent state. It
// is what policies, the spatial index and downstream collaborators see.
type AgentView struct {
	ID        AgentID
	Position  model.Vec2
	Health    Health
	Occupancy Occupancy
	Mobile    bool
	Age       int
}

// Agent is one simulated individual. An agent is only ever mutated by the
// worker owning its partition, or by the serialized admission pass.
type Agent struct {
	id  AgentID
	cfg *model.Config

	position     model.Vec2
	velocity     model.Vec2
	acceleration model.Vec2

	health    Health
	occupancy Occupancy
	mobile    bool
	age       int

	rng *rand.Rand
}

// NewAgent creates an agent with a uniformly random position inside the
// configured domain, an initial health and mobility drawn from the
// configured probabilities, and an age drawn from sampler. The agent owns a
// private random stream seeded with seed.
func NewAgent(id AgentID, cfg *model.Config, sampler AgeSampler, seed int64) (*Agent, error) {
	if sampler == nil {
		sampler = uniformAges
	}
	rng := rand.New(rand.NewSource(seed))

	a := &Agent{
		id:  id,
		cfg: cfg,
		position: model.Vec2{
			X: rng.Float64() * cfg.Width,
			Y: rng.Float64() * cfg.Height,
		},
		health:    Susceptible(),
		occupancy: Free(),
		rng:       rng,
	}
	if rng.Float64() < cfg.InitialInfected {
		a.health = Infected(cfg.InfectedPeriod)
	}
	a.mobile = rng.Float64() < cfg.InitialMobile

	age, err := sampleAge(sampler, rng)
	if err != nil {
		return nil, err
	}
	a.age = age
	return a, nil
}

// ID returns the agent's stable identity.
func (a *Agent) ID() AgentID { return a.id }

// Position returns the current position.
func (a *Agent) Position() model.Vec2 { return a.position }

// Velocity returns the current velocity.
func (a *Agent) Velocity() model.Vec2 { return a.velocity }

// Health returns the current health state.
func (a *Agent) Health() Health { return a.health }

// Occupancy returns the current resource state.
func (a *Agent) Occupancy() Occupancy { return a.occupancy }

// Mobile reports whether the agent currently moves.
func (a *Agent) Mobile() bool { return a.mobile }

// Age returns the agent's age in years.
func (a *Agent) Age() int { return a.age }

// View returns an immutable copy of the agent's visible state.
func (a *Agent) View() AgentView {
	return AgentView{
		ID:        a.id,
		Position:  a.position,
		Health:    a.health,
		Occupancy: a.occupancy,
		Mobile:    a.mobile,
		Age:       a.age,
	}
}

// SetPosition places the agent. Intended for scenario setup.
func (a *Agent) SetPosition(p model.Vec2) { a.position = p }

// SetVelocity overrides the agent's velocity. Intended for scenario setup.
func (a *Agent) SetVelocity(v model.Vec2) { a.velocity = v }

// SetMobile overrides the mobility flag. Intended for scenario setup.
func (a *Agent) SetMobile(mobile bool) { a.mobile = mobile }

// SetHealth overrides the health state. Intended for scenario setup; a dead
// agent loses mobility.
func (a *Agent) SetHealth(h Health) {
	a.health = h
	if h.Status == StatusDead {
		a.mobile = false
	}
}

// ApplyForce accumulates f into the acceleration applied on the next
// UpdateMovement.
func (a *Agent) ApplyForce(f model.Vec2) {
	a.acceleration = a.acceleration.Add(f)
}

// Infect moves a susceptible agent to Infected for the configured period.
// Agents in any other state are unaffected.
func (a *Agent) Infect() bool {
	if a.health.Status != StatusSusceptible {
		return false
	}
	a.health = Infected(a.cfg.InfectedPeriod)
	return true
}

// Occupy marks the agent as holding a resource slot for days ticks. The
// agent stops moving until it is released.
func (a *Agent) Occupy(days int) {
	a.occupancy = Occupied(days)
	a.mobile = false
}

// Test runs a diagnostic on the agent using its own random stream.
// Infected agents test positive with the configured true-positive rate;
// susceptible and recovered agents test negative with the true-negative
// rate; dead agents always test negative.
func (a *Agent) Test() bool {
	switch a.health.Status {
	case StatusInfected:
		return a.rng.Float64() < a.cfg.TestTruePositive
	case StatusDead:
		return false
	default:
		return a.rng.Float64() >= a.cfg.TestTrueNegative
	}
}

// UpdateMovement integrates the agent's motion for one tick: the velocity is
// clamped to the maximum, the position advances by the velocity, the
// velocity absorbs the accumulated acceleration, and the acceleration is
// cleared. Any axis that leaves the domain is clamped back inside and its
// velocity component reflected. Immobile agents do not move.
func (a *Agent) UpdateMovement() {
	if !a.mobile {
		a.velocity = model.Vec2{}
		a.acceleration = model.Vec2{}
		return
	}

	a.velocity = a.velocity.ClampLen(a.cfg.MaxVelocity)
	a.position = a.position.Add(a.velocity)
	a.velocity = a.velocity.Add(a.acceleration)
	a.acceleration = model.Vec2{}

	a.position.X, a.velocity.X = reflect(a.position.X, a.velocity.X, a.cfg.Width)
	a.position.Y, a.velocity.Y = reflect(a.position.Y, a.velocity.Y, a.cfg.Height)
}

// reflect keeps p within [0, extent) and points v back into the domain when
// p had to be clamped.
func reflect(p, v, extent float64) (float64, float64) {
	switch {
	case p < 0 || math.IsNaN(p):
		return 0, math.Abs(v)
	case p >= extent:
		return math.Nextafter(extent, 0), -math.Abs(v)
	default:
		return p, v
	}
}

// UpdateStatus advances the health and occupancy state machines by one
// tick. The resource slot is released through pool whenever the agent is
// discharged, dies, or becomes susceptible again. A failing or out-of-range
// survival policy is returned as an error and leaves the agent unchanged.
func (a *Agent) UpdateStatus(survival SurvivalPolicy, pool *ResourcePool) error {
	switch a.health.Status {
	case StatusInfected:
		if a.health.Days > 0 {
			a.health.Days--
			break
		}
		p, err := survivalChance(survival, a.View())
		if err != nil {
			return err
		}
		if a.rng.Float64() < p {
			a.health = Recovered(a.cfg.RecoveredPeriod)
		} else {
			a.die(pool)
		}
	case StatusRecovered:
		if a.health.Days > 0 {
			a.health.Days--
			break
		}
		a.health = Susceptible()
		a.mobile = true
		a.discharge(pool)
	}

	if a.occupancy.Occupied {
		if a.occupancy.Days > 0 {
			a.occupancy.Days--
		} else {
			a.discharge(pool)
			a.mobile = a.health.Status != StatusDead
		}
	}
	return nil
}

func (a *Agent) die(pool *ResourcePool) {
	a.health = Dead()
	a.mobile = false
	a.velocity = model.Vec2{}
	a.discharge(pool)
}

func (a *Agent) discharge(pool *ResourcePool) {
	if !a.occupancy.Occupied {
		return
	}
	a.occupancy = Free()
	if pool != nil {
		pool.Release(a.id)
	}
}
