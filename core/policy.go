package core

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrPolicyOutOfRange indicates an injected policy produced a value outside
// its contract (a probability outside [0, 1] or an age outside [0, 100]).
var ErrPolicyOutOfRange = errors.New("policy value out of range")

// MaxAge is the oldest age an agent can have.
const MaxAge = 100

// SurvivalPolicy computes the chance an agent survives an infection.
type SurvivalPolicy interface {
	SurvivalChance(agent AgentView) (float64, error)
}

// InfectionPolicy computes the chance that source infects target during one
// interaction.
type InfectionPolicy interface {
	InfectionChance(source, target AgentView) (float64, error)
}

// AgeSampler draws an agent's age from a demographic distribution.
type AgeSampler interface {
	SampleAge(rng *rand.Rand) (int, error)
}

// SurvivalFunc adapts a plain function to SurvivalPolicy.
type SurvivalFunc func(agent AgentView) float64

// SurvivalChance implements SurvivalPolicy.
func (f SurvivalFunc) SurvivalChance(agent AgentView) (float64, error) { return f(agent), nil }

// InfectionFunc adapts a plain function to InfectionPolicy.
type InfectionFunc func(source, target AgentView) float64

// InfectionChance implements InfectionPolicy.
func (f InfectionFunc) InfectionChance(source, target AgentView) (float64, error) {
	return f(source, target), nil
}

// AgeSamplerFunc adapts a plain function to AgeSampler.
type AgeSamplerFunc func(rng *rand.Rand) int

// SampleAge implements AgeSampler.
func (f AgeSamplerFunc) SampleAge(rng *rand.Rand) (int, error) { return f(rng), nil }

// uniformAges is used when no demographic distribution is injected.
var uniformAges = AgeSamplerFunc(func(rng *rand.Rand) int {
	return rng.Intn(MaxAge + 1)
})

// DefaultSurvival gives a chance of 1 - age/100: newborns always survive,
// centenarians never do. It is used when no survival policy is injected.
var DefaultSurvival = SurvivalFunc(func(a AgentView) float64 {
	return 1 - float64(a.Age)/MaxAge
})

// DefaultInfection gives min(1, 1/d) for agents d apart. It is used when no
// infection policy is injected.
var DefaultInfection = InfectionFunc(func(source, target AgentView) float64 {
	d := source.Position.Distance(target.Position)
	if d <= 1 {
		return 1
	}
	return 1 / d
})

func checkProbability(name string, p float64) (float64, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: %s returned %g", ErrPolicyOutOfRange, name, p)
	}
	return p, nil
}

func survivalChance(policy SurvivalPolicy, a AgentView) (float64, error) {
	p, err := policy.SurvivalChance(a)
	if err != nil {
		return 0, fmt.Errorf("survival policy for agent %d: %w", a.ID, err)
	}
	return checkProbability("survival policy", p)
}

func infectionChance(policy InfectionPolicy, source, target AgentView) (float64, error) {
	p, err := policy.InfectionChance(source, target)
	if err != nil {
		return 0, fmt.Errorf("infection policy for agents %d -> %d: %w", source.ID, target.ID, err)
	}
	return checkProbability("infection policy", p)
}

func sampleAge(sampler AgeSampler, rng *rand.Rand) (int, error) {
	age, err := sampler.SampleAge(rng)
	if err != nil {
		return 0, fmt.Errorf("sample age: %w", err)
	}
	if age < 0 || age > MaxAge {
		return 0, fmt.Errorf("%w: age sampler returned %d", ErrPolicyOutOfRange, age)
	}
	return age, nil
}
