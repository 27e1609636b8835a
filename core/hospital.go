package core

import (
	"errors"
	"sync"
)

var (
	// ErrPoolFull indicates every resource slot is taken.
	ErrPoolFull = errors.New("resource pool is full")
	// ErrAlreadyAdmitted indicates the agent already holds a slot.
	ErrAlreadyAdmitted = errors.New("agent already admitted")
)

// ResourcePool is the capacity-bounded treatment resource (the hospital).
// The roster maps each admitted agent to its remaining occupancy days and
// never holds more than Capacity entries.
type ResourcePool struct {
	mu       sync.Mutex
	capacity int
	roster   map[AgentID]int
}

// NewResourcePool constructs an empty pool. A non-positive capacity yields
// a pool that admits nobody.
func NewResourcePool(capacity int) *ResourcePool {
	if capacity < 0 {
		capacity = 0
	}
	return &ResourcePool{
		capacity: capacity,
		roster:   make(map[AgentID]int, capacity),
	}
}

// TryAdmit inserts id with days of occupancy. It returns ErrPoolFull when
// the roster is at capacity and ErrAlreadyAdmitted when id is present.
func (p *ResourcePool) TryAdmit(id AgentID, days int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admitLocked(id, days)
}

// Release removes id from the roster. Releasing an absent id is a no-op.
func (p *ResourcePool) Release(id AgentID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.roster, id)
}

// Tick decrements every roster entry by one day, saturating at zero.
func (p *ResourcePool) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, days := range p.roster {
		if days > 0 {
			p.roster[id] = days - 1
		}
	}
}

// Count returns the number of occupied slots.
func (p *ResourcePool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.roster)
}

// Capacity returns the fixed number of slots.
func (p *ResourcePool) Capacity() int {
	return p.capacity
}

// IsFull reports whether every slot is taken.
func (p *ResourcePool) IsFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.roster) >= p.capacity
}

// Contains reports whether id currently holds a slot.
func (p *ResourcePool) Contains(id AgentID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.roster[id]
	return ok
}

// Remaining returns the occupancy days left for id and whether it is admitted.
func (p *ResourcePool) Remaining(id AgentID) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	days, ok := p.roster[id]
	return days, ok
}

// Session runs fn while holding the pool lock, so a batch of admissions is
// never interleaved with releases or ticks from other goroutines. fn must
// not call the pool's own methods.
func (p *ResourcePool) Session(fn func(s *AdmissionSession)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&AdmissionSession{pool: p})
}

func (p *ResourcePool) admitLocked(id AgentID, days int) error {
	if _, ok := p.roster[id]; ok {
		return ErrAlreadyAdmitted
	}
	if len(p.roster) >= p.capacity {
		return ErrPoolFull
	}
	p.roster[id] = nonNegative(days)
	return nil
}

// AdmissionSession is the locked view of a pool handed out by Session.
type AdmissionSession struct {
	pool *ResourcePool
}

// TryAdmit behaves like ResourcePool.TryAdmit under the session's lock.
func (s *AdmissionSession) TryAdmit(id AgentID, days int) error {
	return s.pool.admitLocked(id, days)
}

// Count returns the number of occupied slots.
func (s *AdmissionSession) Count() int {
	return len(s.pool.roster)
}

// IsFull reports whether every slot is taken.
func (s *AdmissionSession) IsFull() bool {
	return len(s.pool.roster) >= s.pool.capacity
}
