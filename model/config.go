package model

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates a configuration failed validation.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultRepulsionCoefficient scales the distancing force applied between
// neighbouring agents.
const DefaultRepulsionCoefficient = 0.05

// Config holds every simulation parameter for a single run. It is loaded
// once at startup and passed to the simulator, agent factory and resource
// pool; nothing mutates it after construction.
type Config struct {
	// Name identifies the configuration set (also the directory holding the
	// demographic distribution).
	Name string `json:"name" env:"EPISIM_NAME"`
	// Seed for the simulator's random stream. Zero draws a fresh seed.
	Seed int64 `json:"seed" env:"EPISIM_SEED"`

	TimeLimit   int     `json:"time_limit" env:"EPISIM_TIME_LIMIT"`
	Width       float64 `json:"width" env:"EPISIM_WIDTH"`
	Height      float64 `json:"height" env:"EPISIM_HEIGHT"`
	MaxVelocity float64 `json:"max_velocity" env:"EPISIM_MAX_VELOCITY"`

	PopulationSize   int     `json:"population_size" env:"EPISIM_POPULATION_SIZE"`
	InfectedPeriod   int     `json:"infected_period" env:"EPISIM_INFECTED_PERIOD"`
	RecoveredPeriod  int     `json:"recovered_period" env:"EPISIM_RECOVERED_PERIOD"`
	InfectionRadius  float64 `json:"infection_radius" env:"EPISIM_INFECTION_RADIUS"`
	HospitalPeriod   int     `json:"hospital_period" env:"EPISIM_HOSPITAL_PERIOD"`
	HospitalCapacity int     `json:"hospital_capacity" env:"EPISIM_HOSPITAL_CAPACITY"`

	InitialInfected float64 `json:"initial_infected" env:"EPISIM_INITIAL_INFECTED"`
	InitialMobile   float64 `json:"initial_mobile" env:"EPISIM_INITIAL_MOBILE"`

	TestsPerTick     int     `json:"tests_per_tick" env:"EPISIM_TESTS_PER_TICK"`
	TestTruePositive float64 `json:"test_true_positive" env:"EPISIM_TEST_TRUE_POSITIVE"`
	TestTrueNegative float64 `json:"test_true_negative" env:"EPISIM_TEST_TRUE_NEGATIVE"`

	Distancing           bool    `json:"distancing" env:"EPISIM_DISTANCING"`
	RepulsionCoefficient float64 `json:"repulsion_coefficient" env:"EPISIM_REPULSION_COEFFICIENT"`
}

// Default returns the reference configuration used by the example scenario.
func Default() Config {
	return Config{
		Name:                 "example",
		TimeLimit:            1000,
		Width:                1000,
		Height:               1000,
		MaxVelocity:          2,
		PopulationSize:       2000,
		InfectedPeriod:       14,
		RecoveredPeriod:      60,
		InfectionRadius:      5,
		HospitalPeriod:       10,
		HospitalCapacity:     20,
		InitialInfected:      0.01,
		InitialMobile:        0.8,
		TestsPerTick:         50,
		TestTruePositive:     0.95,
		TestTrueNegative:     0.98,
		Distancing:           true,
		RepulsionCoefficient: DefaultRepulsionCoefficient,
	}
}

// Bounds returns the simulation domain.
func (c Config) Bounds() Bounds {
	return Bounds{Width: c.Width, Height: c.Height}
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("dimensions must be positive, got %gx%g", c.Width, c.Height))
	}
	if c.PopulationSize < 0 {
		errs = append(errs, fmt.Errorf("population_size must be >= 0, got %d", c.PopulationSize))
	}
	if c.TimeLimit < 0 {
		errs = append(errs, fmt.Errorf("time_limit must be >= 0, got %d", c.TimeLimit))
	}
	if c.MaxVelocity < 0 {
		errs = append(errs, fmt.Errorf("max_velocity must be >= 0, got %g", c.MaxVelocity))
	}
	if c.InfectionRadius < 0 {
		errs = append(errs, fmt.Errorf("infection_radius must be >= 0, got %g", c.InfectionRadius))
	}
	if c.RepulsionCoefficient < 0 {
		errs = append(errs, fmt.Errorf("repulsion_coefficient must be >= 0, got %g", c.RepulsionCoefficient))
	}
	for name, v := range map[string]int{
		"infected_period":   c.InfectedPeriod,
		"recovered_period":  c.RecoveredPeriod,
		"hospital_period":   c.HospitalPeriod,
		"hospital_capacity": c.HospitalCapacity,
		"tests_per_tick":    c.TestsPerTick,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %d", name, v))
		}
	}
	for name, p := range map[string]float64{
		"initial_infected":   c.InitialInfected,
		"initial_mobile":     c.InitialMobile,
		"test_true_positive": c.TestTruePositive,
		"test_true_negative": c.TestTrueNegative,
	} {
		if p < 0 || p > 1 || p != p {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %g", name, p))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
