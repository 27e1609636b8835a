package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Shopify/go-lua"

	"github.com/signalsfoundry/epidemic-simulator/core"
)

// Lua entry points a policy script may define.
const (
	SurvivalFunction  = "survival_chance"
	InfectionFunction = "infection_chance"
)

// ErrScript indicates a policy script failed to load or run.
var ErrScript = errors.New("policy script")

// Script evaluates policies written in Lua. A script defines
// survival_chance(agent) and/or infection_chance(source, target); agents
// are passed as tables with id, age, x, y, status, days, occupied and
// mobile fields.
//
// Lua states are single-threaded, so a Script keeps a pool of states
// compiled from the same chunk and hands one to each concurrent caller.
type Script struct {
	name   string
	source string
	pool   chan *lua.State

	survival  bool
	infection bool
}

// LoadScript reads and compiles the Lua policy at path. size bounds the
// number of idle states kept for reuse.
func LoadScript(path string, size int) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrScript, path, err)
	}
	return NewScript(filepath.Base(path), string(data), size)
}

// NewScript compiles source. It fails unless the chunk runs and defines at
// least one of the policy functions.
func NewScript(name, source string, size int) (*Script, error) {
	if size < 1 {
		size = 1
	}
	s := &Script{
		name:   name,
		source: source,
		pool:   make(chan *lua.State, size),
	}
	l, err := s.newState()
	if err != nil {
		return nil, err
	}
	s.survival = hasFunction(l, SurvivalFunction)
	s.infection = hasFunction(l, InfectionFunction)
	if !s.survival && !s.infection {
		return nil, fmt.Errorf("%w: %s defines neither %s nor %s", ErrScript, name, SurvivalFunction, InfectionFunction)
	}
	s.release(l)
	return s, nil
}

// Name returns the script's name, usually its file name.
func (s *Script) Name() string { return s.name }

// Survival returns the script's survival policy, or nil when the script
// does not define one.
func (s *Script) Survival() core.SurvivalPolicy {
	if !s.survival {
		return nil
	}
	return scriptSurvival{s}
}

// Infection returns the script's infection policy, or nil when the script
// does not define one.
func (s *Script) Infection() core.InfectionPolicy {
	if !s.infection {
		return nil
	}
	return scriptInfection{s}
}

type scriptSurvival struct{ s *Script }

func (p scriptSurvival) SurvivalChance(a core.AgentView) (float64, error) {
	return p.s.call(SurvivalFunction, a)
}

type scriptInfection struct{ s *Script }

func (p scriptInfection) InfectionChance(source, target core.AgentView) (float64, error) {
	return p.s.call(InfectionFunction, source, target)
}

func (s *Script) call(fn string, agents ...core.AgentView) (float64, error) {
	l, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer s.release(l)

	l.Global(fn)
	for _, a := range agents {
		pushAgent(l, a)
	}
	if err := l.ProtectedCall(len(agents), 1, 0); err != nil {
		l.SetTop(0)
		return 0, fmt.Errorf("%w: %s: %s: %w", ErrScript, s.name, fn, err)
	}
	chance, ok := l.ToNumber(-1)
	l.SetTop(0)
	if !ok {
		return 0, fmt.Errorf("%w: %s: %s did not return a number", ErrScript, s.name, fn)
	}
	return chance, nil
}

func (s *Script) acquire() (*lua.State, error) {
	select {
	case l := <-s.pool:
		return l, nil
	default:
		return s.newState()
	}
}

func (s *Script) release(l *lua.State) {
	select {
	case s.pool <- l:
	default:
	}
}

func (s *Script) newState() (*lua.State, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)
	if err := lua.LoadBuffer(l, s.source, s.name, ""); err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrScript, s.name, err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("%w: run %s: %w", ErrScript, s.name, err)
	}
	return l, nil
}

func hasFunction(l *lua.State, name string) bool {
	l.Global(name)
	defer l.Pop(1)
	return l.IsFunction(-1)
}

func pushAgent(l *lua.State, a core.AgentView) {
	l.NewTable()
	l.PushInteger(int(a.ID))
	l.SetField(-2, "id")
	l.PushInteger(a.Age)
	l.SetField(-2, "age")
	l.PushNumber(a.Position.X)
	l.SetField(-2, "x")
	l.PushNumber(a.Position.Y)
	l.SetField(-2, "y")
	l.PushString(a.Health.Status.String())
	l.SetField(-2, "status")
	l.PushInteger(a.Health.Days)
	l.SetField(-2, "days")
	l.PushBoolean(a.Occupancy.Occupied)
	l.SetField(-2, "occupied")
	l.PushBoolean(a.Mobile)
	l.SetField(-2, "mobile")
}
