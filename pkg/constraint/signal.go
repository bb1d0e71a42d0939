package constraint

import (
	"strconv"

	"github.com/spikeflow/spikeflow/pkg/spike"
)

// DefaultMaxAge is the max age in seconds of a signal declared without one.
// Set it before any state is declared.
var DefaultMaxAge = 5.0

// SignalOption configures a Signal.
type SignalOption func(*Signal)

// WithMinAge sets how long, in seconds, a bound spike must have lived before
// the signal counts as satisfied.
func WithMinAge(seconds float64) SignalOption {
	return func(s *Signal) { s.minAge = seconds }
}

// WithMaxAge sets how long, in seconds, a spike may live and still be bound.
// A negative value means no limit.
func WithMaxAge(seconds float64) SignalOption {
	return func(s *Signal) { s.maxAge = seconds }
}

// Unbounded removes the max age limit.
func Unbounded() SignalOption {
	return WithMaxAge(-1)
}

// Detached makes spikes satisfying the signal bypass causal group arbitration.
// Output spikes of a detached signal start a causal group of their own.
func Detached() SignalOption {
	return func(s *Signal) { s.detached = true }
}

// Signal is a leaf constraint naming one signal. It binds at most one spike
// at a time.
type Signal struct {
	name     string
	minAge   float64
	maxAge   float64
	detached bool

	spike       *spike.Spike
	minAgeTicks int64
}

// S declares a signal constraint.
func S(name string, opts ...SignalOption) *Signal {
	s := &Signal{name: name, maxAge: DefaultMaxAge}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the signal name.
func (s *Signal) Name() string { return s.name }

// MinAge returns the minimum spike age in seconds.
func (s *Signal) MinAge() float64 { return s.minAge }

// MaxAge returns the maximum spike age in seconds, negative when unbounded.
func (s *Signal) MaxAge() float64 { return s.maxAge }

// Detached reports whether the signal bypasses causal group arbitration.
func (s *Signal) Detached() bool { return s.detached }

// Spike returns the bound spike or nil.
func (s *Signal) Spike() *spike.Spike { return s.spike }

// Signals returns s.
func (s *Signal) Signals() []*Signal { return []*Signal{s} }

// Conjunctions returns a singleton conjunction holding s.
func (s *Signal) Conjunctions() []*Conjunct { return []*Conjunct{{signals: []*Signal{s}}} }

// Acquire binds sp when s is unbound, the names match, sp is young enough and
// sp's causal group records the acquisition.
func (s *Signal) Acquire(sp *spike.Spike, act Activation) bool {
	if s.spike != nil || sp.Name() != s.name || sp.Wiped() {
		return false
	}
	if s.maxAge >= 0 && sp.Age() > act.SecsToTicks(s.maxAge) {
		return false
	}
	if !sp.CausalGroup().Acquired(sp, act, s.detached) {
		return false
	}
	s.spike = sp
	s.minAgeTicks = act.SecsToTicks(s.minAge)
	return true
}

// Evaluate reports whether a spike is bound and old enough.
func (s *Signal) Evaluate() bool {
	return s.spike != nil && s.spike.Age() >= s.minAgeTicks
}

// Dereference unbinds s if it holds sp, or whatever it holds when sp is nil.
func (s *Signal) Dereference(sp *spike.Spike) []Binding {
	if s.spike == nil || (sp != nil && s.spike != sp) {
		return nil
	}
	b := Binding{Signal: s, Spike: s.spike}
	s.spike = nil
	return []Binding{b}
}

// Update rejects the bound spike once it is older than the max age.
func (s *Signal) Update(act Activation) []*Signal {
	if s.spike == nil || s.maxAge < 0 {
		return nil
	}
	if s.spike.Age() <= act.SecsToTicks(s.maxAge) {
		return nil
	}
	sp := s.spike
	s.spike = nil
	sp.CausalGroup().Rejected(sp, act, spike.RejectExpired)
	return []*Signal{s}
}

// Clone returns an unbound copy of s.
func (s *Signal) Clone() Constraint { return s.clone() }

func (s *Signal) clone() *Signal {
	return &Signal{
		name:     s.name,
		minAge:   s.minAge,
		maxAge:   s.maxAge,
		detached: s.detached,
	}
}

func (s *Signal) String() string {
	if s.spike == nil {
		return s.name
	}
	return s.name + "=" + s.spike.ID() + "@" + strconv.FormatInt(s.spike.Age(), 10)
}

func (*Signal) sealed() {}
