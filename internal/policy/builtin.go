// Package policy provides survival and infection strategies for the
// simulator, either built in or scripted in Lua.
package policy

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/epidemic-simulator/core"
)

// ErrInvalidPolicy indicates a policy was constructed with unusable
// parameters.
var ErrInvalidPolicy = errors.New("invalid policy")

// AgeLinearSurvival is the simulator's default survival policy.
var AgeLinearSurvival = core.DefaultSurvival

// InverseDistanceInfection is the simulator's default infection policy.
var InverseDistanceInfection = core.DefaultInfection

// ConstantSurvival returns a policy that always yields p.
func ConstantSurvival(p float64) (core.SurvivalPolicy, error) {
	if err := checkUnit(p); err != nil {
		return nil, err
	}
	return core.SurvivalFunc(func(core.AgentView) float64 { return p }), nil
}

// ConstantInfection returns a policy that always yields p.
func ConstantInfection(p float64) (core.InfectionPolicy, error) {
	if err := checkUnit(p); err != nil {
		return nil, err
	}
	return core.InfectionFunc(func(core.AgentView, core.AgentView) float64 { return p }), nil
}

// SurvivalTable maps ages to survival chances. Bands are looked up by
// their lower bound: the chance for an age is the one of the highest
// band start not above it.
type SurvivalTable struct {
	bands []band
}

type band struct {
	from   int
	chance float64
}

// NewSurvivalTable builds a table from band start ages and chances. The
// first band must start at age 0 and starts must be strictly increasing.
func NewSurvivalTable(from []int, chances []float64) (*SurvivalTable, error) {
	if len(from) == 0 || len(from) != len(chances) {
		return nil, fmt.Errorf("%w: %d band starts for %d chances", ErrInvalidPolicy, len(from), len(chances))
	}
	if from[0] != 0 {
		return nil, fmt.Errorf("%w: first band starts at %d, want 0", ErrInvalidPolicy, from[0])
	}
	t := &SurvivalTable{bands: make([]band, len(from))}
	for i := range from {
		if i > 0 && from[i] <= from[i-1] {
			return nil, fmt.Errorf("%w: band starts not increasing at %d", ErrInvalidPolicy, from[i])
		}
		if err := checkUnit(chances[i]); err != nil {
			return nil, err
		}
		t.bands[i] = band{from: from[i], chance: chances[i]}
	}
	return t, nil
}

// SurvivalChance implements core.SurvivalPolicy.
func (t *SurvivalTable) SurvivalChance(a core.AgentView) (float64, error) {
	chance := t.bands[0].chance
	for _, b := range t.bands[1:] {
		if a.Age < b.from {
			break
		}
		chance = b.chance
	}
	return chance, nil
}

func checkUnit(p float64) error {
	if p < 0 || p > 1 || p != p {
		return fmt.Errorf("%w: probability %g outside [0, 1]", ErrInvalidPolicy, p)
	}
	return nil
}
