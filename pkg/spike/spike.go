// Package spike provides tick-aged signal instances and the causal groups
// that arbitrate which activations may consume them.
package spike

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrSpikeWiped is returned when an operation targets a spike that has
// already been removed.
var ErrSpikeWiped = errors.New("spike already wiped")

// Spike is a single occurrence of a named signal. Its age advances once per
// tick and it belongs to exactly one causal group for its whole lifetime.
type Spike struct {
	id      string
	name    string
	payload any
	age     atomic.Int64
	wiped   atomic.Bool

	mu        sync.Mutex
	group     *CausalGroup
	parents   []*Spike
	offspring map[*Spike]struct{}
}

// New creates a spike for the named signal. A nil group places the spike in
// a fresh causal group. Parents adopt the spike as offspring.
func New(name string, group *CausalGroup, payload any, parents ...*Spike) *Spike {
	if group == nil {
		group = NewCausalGroup()
	}
	sp := &Spike{
		id:        uuid.NewString(),
		name:      name,
		payload:   payload,
		group:     group,
		offspring: make(map[*Spike]struct{}),
	}
	group.AddSpike(sp)
	for _, p := range parents {
		if p == nil {
			continue
		}
		if err := p.Adopt(sp); err == nil {
			sp.parents = append(sp.parents, p)
		}
	}
	return sp
}

// ID returns the unique identifier of the spike.
func (s *Spike) ID() string { return s.id }

// Name returns the signal name the spike was emitted for.
func (s *Spike) Name() string { return s.name }

// Payload returns the value carried by the spike, if any.
func (s *Spike) Payload() any { return s.payload }

// Age returns the number of ticks the spike has lived through.
func (s *Spike) Age() int64 { return s.age.Load() }

// Tick advances the spike's age by one tick.
func (s *Spike) Tick() { s.age.Add(1) }

// Wiped reports whether the spike has been removed.
func (s *Spike) Wiped() bool { return s.wiped.Load() }

// CausalGroup returns the group the spike currently belongs to, following
// merges.
func (s *Spike) CausalGroup() *CausalGroup {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	return g.root()
}

// Parents returns the spikes this spike was emitted from.
func (s *Spike) Parents() []*Spike {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Spike, len(s.parents))
	copy(out, s.parents)
	return out
}

// Adopt registers child as offspring of s.
func (s *Spike) Adopt(child *Spike) error {
	if s.Wiped() {
		return ErrSpikeWiped
	}
	s.mu.Lock()
	s.offspring[child] = struct{}{}
	s.mu.Unlock()
	return nil
}

// HasOffspring reports whether any live spike descends from s.
func (s *Spike) HasOffspring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offspring) > 0
}

// Offspring returns every descendant of s, depth first. The result is a
// fresh slice on each call.
func (s *Spike) Offspring() []*Spike {
	s.mu.Lock()
	direct := make([]*Spike, 0, len(s.offspring))
	for child := range s.offspring {
		direct = append(direct, child)
	}
	s.mu.Unlock()

	var out []*Spike
	for _, child := range direct {
		out = append(out, child)
		out = append(out, child.Offspring()...)
	}
	return out
}

// Wipe removes the spike together with all of its offspring. Unless
// alreadyWipedInGroup is set, the causal group first dereferences every
// activation still holding the spike. Wiping twice is a no-op.
func (s *Spike) Wipe(alreadyWipedInGroup bool) {
	if !s.wiped.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	children := make([]*Spike, 0, len(s.offspring))
	for child := range s.offspring {
		children = append(children, child)
	}
	s.offspring = make(map[*Spike]struct{})
	parents := s.parents
	s.parents = nil
	s.mu.Unlock()

	for _, child := range children {
		child.Wipe(false)
	}
	for _, p := range parents {
		p.forget(s)
	}

	g := s.CausalGroup()
	if !alreadyWipedInGroup {
		g.Wiped(s)
	}
	g.remove(s)
}

func (s *Spike) forget(child *Spike) {
	s.mu.Lock()
	delete(s.offspring, child)
	s.mu.Unlock()
}

func (s *Spike) setGroup(g *CausalGroup) {
	s.mu.Lock()
	s.group = g
	s.mu.Unlock()
}

// String returns the signal name and age of the spike.
func (s *Spike) String() string {
	return s.name + "@" + strconv.FormatInt(s.Age(), 10)
}
