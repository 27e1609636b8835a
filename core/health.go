package core

import "fmt"

// Status enumerates the mutually exclusive health states of an agent.
type Status uint8

const (
	StatusSusceptible Status = iota
	StatusInfected
	StatusRecovered
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusSusceptible:
		return "susceptible"
	case StatusInfected:
		return "infected"
	case StatusRecovered:
		return "recovered"
	case StatusDead:
		return "dead"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Health is the tagged union Susceptible | Infected(days) | Recovered(days) | Dead.
// Days is meaningful only for Infected and Recovered and is never negative.
type Health struct {
	Status Status
	Days   int
}

// Susceptible returns the susceptible health state.
func Susceptible() Health { return Health{Status: StatusSusceptible} }

// Infected returns an infected state lasting days more ticks.
func Infected(days int) Health { return Health{Status: StatusInfected, Days: nonNegative(days)} }

// Recovered returns a recovered (immune) state lasting days more ticks.
func Recovered(days int) Health { return Health{Status: StatusRecovered, Days: nonNegative(days)} }

// Dead returns the terminal state.
func Dead() Health { return Health{Status: StatusDead} }

func (h Health) String() string {
	switch h.Status {
	case StatusInfected, StatusRecovered:
		return fmt.Sprintf("%s(%d)", h.Status, h.Days)
	default:
		return h.Status.String()
	}
}

// Occupancy is the resource state Free | Occupied(days).
type Occupancy struct {
	Occupied bool
	Days     int
}

// Free returns the unoccupied state.
func Free() Occupancy { return Occupancy{} }

// Occupied returns a resource slot held for days more ticks.
func Occupied(days int) Occupancy { return Occupancy{Occupied: true, Days: nonNegative(days)} }

func (o Occupancy) String() string {
	if !o.Occupied {
		return "free"
	}
	return fmt.Sprintf("occupied(%d)", o.Days)
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
