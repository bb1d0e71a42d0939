// Package constraint implements the boolean trigger conditions of states as
// signals combined in disjunctive normal form.
package constraint

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spikeflow/spikeflow/pkg/spike"
)

// ErrInvalidComposition is returned when two disjunctions are combined with
// And. The result would not be in disjunctive normal form.
var ErrInvalidComposition = errors.New("invalid constraint composition")

// CompositionError describes an illegal combination of constraints.
type CompositionError struct {
	Left  string
	Right string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("cannot conjoin %s with %s: both are disjunctions", e.Left, e.Right)
}

// Unwrap returns ErrInvalidComposition.
func (e *CompositionError) Unwrap() error { return ErrInvalidComposition }

// Activation is the owner of a constraint tree as seen by its leaves.
type Activation interface {
	spike.Activation
	// SecsToTicks converts a duration in seconds to whole ticks.
	SecsToTicks(seconds float64) int64
}

// Binding pairs a signal with the spike it was bound to.
type Binding struct {
	Signal *Signal
	Spike  *spike.Spike
}

// Constraint is a trigger condition. Only *Signal, *Conjunct and *Disjunct
// implement it.
type Constraint interface {
	// Signals returns every leaf signal of the tree.
	Signals() []*Signal
	// Conjunctions returns the conjunctions of the tree in normal form.
	Conjunctions() []*Conjunct
	// Acquire offers sp to every matching unbound leaf. It reports whether
	// at least one leaf bound it.
	Acquire(sp *spike.Spike, act Activation) bool
	// Evaluate reports whether the constraint is currently satisfied.
	Evaluate() bool
	// Dereference unbinds every leaf bound to sp, or every bound leaf when
	// sp is nil, and returns the dropped bindings.
	Dereference(sp *spike.Spike) []Binding
	// Update drops bindings to spikes older than their signal's max age,
	// rejecting them in their causal group, and returns the affected leaves.
	Update(act Activation) []*Signal
	// Clone returns an unbound deep copy.
	Clone() Constraint
	String() string

	sealed()
}

// And conjoins the given terms, distributing over disjunctions.
func And(terms ...Constraint) (Constraint, error) {
	if len(terms) == 0 {
		return nil, errors.New("and: no terms")
	}
	acc := terms[0].Clone()
	for _, t := range terms[1:] {
		var err error
		if acc, err = and2(acc, t.Clone()); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// MustAnd is like And but panics on an invalid composition. It is meant for
// static state declarations.
func MustAnd(terms ...Constraint) Constraint {
	c, err := And(terms...)
	if err != nil {
		panic(err)
	}
	return c
}

// Or disjoins the given terms into a flat disjunction.
func Or(terms ...Constraint) *Disjunct {
	var conjs []*Conjunct
	for _, t := range terms {
		conjs = append(conjs, t.Clone().Conjunctions()...)
	}
	return newDisjunct(conjs...)
}

// Normalize lifts any constraint to an equivalent disjunction.
func Normalize(c Constraint) *Disjunct {
	if d, ok := c.(*Disjunct); ok {
		return d
	}
	return newDisjunct(c.Conjunctions()...)
}

// Equal reports whether two constraints have the same normal form.
func Equal(a, b Constraint) bool {
	return Normalize(a).Key() == Normalize(b).Key()
}

func and2(a, b Constraint) (Constraint, error) {
	da, aIsDisj := a.(*Disjunct)
	db, bIsDisj := b.(*Disjunct)
	switch {
	case aIsDisj && bIsDisj:
		return nil, &CompositionError{Left: a.String(), Right: b.String()}
	case aIsDisj:
		return distribute(da, b.Conjunctions()[0]), nil
	case bIsDisj:
		return distribute(db, a.Conjunctions()[0]), nil
	}
	signals := append(a.Signals(), b.Signals()...)
	return newConjunct(signals...), nil
}

func distribute(d *Disjunct, c *Conjunct) *Disjunct {
	conjs := make([]*Conjunct, 0, len(d.conjuncts))
	for _, member := range d.conjuncts {
		signals := append(member.Clone().Signals(), c.Clone().Signals()...)
		conjs = append(conjs, newConjunct(signals...))
	}
	return newDisjunct(conjs...)
}

// Conjunct is a set of signals that must all be satisfied together.
type Conjunct struct {
	signals []*Signal
}

func newConjunct(signals ...*Signal) *Conjunct {
	seen := make(map[string]struct{}, len(signals))
	c := &Conjunct{}
	for _, s := range signals {
		if _, dup := seen[s.name]; dup {
			continue
		}
		seen[s.name] = struct{}{}
		c.signals = append(c.signals, s)
	}
	sort.SliceStable(c.signals, func(i, j int) bool { return c.signals[i].name < c.signals[j].name })
	return c
}

// Key identifies the conjunction by its sorted signal names.
func (c *Conjunct) Key() string {
	names := make([]string, len(c.signals))
	for i, s := range c.signals {
		names[i] = s.name
	}
	return strings.Join(names, "&")
}

// Signals returns the members of the conjunction.
func (c *Conjunct) Signals() []*Signal {
	out := make([]*Signal, len(c.signals))
	copy(out, c.signals)
	return out
}

// Conjunctions returns c itself.
func (c *Conjunct) Conjunctions() []*Conjunct { return []*Conjunct{c} }

// Acquire offers sp to every member.
func (c *Conjunct) Acquire(sp *spike.Spike, act Activation) bool {
	acquired := false
	for _, s := range c.signals {
		if s.Acquire(sp, act) {
			acquired = true
		}
	}
	return acquired
}

// Evaluate reports whether every member is satisfied.
func (c *Conjunct) Evaluate() bool {
	for _, s := range c.signals {
		if !s.Evaluate() {
			return false
		}
	}
	return true
}

// Dereference unbinds members bound to sp.
func (c *Conjunct) Dereference(sp *spike.Spike) []Binding {
	var out []Binding
	for _, s := range c.signals {
		out = append(out, s.Dereference(sp)...)
	}
	return out
}

// Update expires members bound to spikes past their max age.
func (c *Conjunct) Update(act Activation) []*Signal {
	var out []*Signal
	for _, s := range c.signals {
		out = append(out, s.Update(act)...)
	}
	return out
}

// Clone returns an unbound copy.
func (c *Conjunct) Clone() Constraint {
	signals := make([]*Signal, len(c.signals))
	for i, s := range c.signals {
		signals[i] = s.clone()
	}
	return &Conjunct{signals: signals}
}

// Bindings returns the spikes currently bound to members.
func (c *Conjunct) Bindings() []Binding {
	var out []Binding
	for _, s := range c.signals {
		if s.spike != nil {
			out = append(out, Binding{Signal: s, Spike: s.spike})
		}
	}
	return out
}

// Bound returns the number of members holding a spike.
func (c *Conjunct) Bound() int {
	n := 0
	for _, s := range c.signals {
		if s.spike != nil {
			n++
		}
	}
	return n
}

func (c *Conjunct) String() string {
	parts := make([]string, len(c.signals))
	for i, s := range c.signals {
		parts[i] = s.String()
	}
	return "(" + strings.Join(parts, " & ") + ")"
}

func (*Conjunct) sealed() {}

// Disjunct is a set of conjunctions of which any one must be satisfied.
type Disjunct struct {
	conjuncts []*Conjunct
}

func newDisjunct(conjs ...*Conjunct) *Disjunct {
	seen := make(map[string]struct{}, len(conjs))
	d := &Disjunct{}
	for _, c := range conjs {
		key := c.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		d.conjuncts = append(d.conjuncts, c)
	}
	sort.SliceStable(d.conjuncts, func(i, j int) bool { return d.conjuncts[i].Key() < d.conjuncts[j].Key() })
	return d
}

// Key identifies the disjunction by its sorted conjunction keys.
func (d *Disjunct) Key() string {
	keys := make([]string, len(d.conjuncts))
	for i, c := range d.conjuncts {
		keys[i] = c.Key()
	}
	return strings.Join(keys, "|")
}

// Signals returns the leaves of every conjunction.
func (d *Disjunct) Signals() []*Signal {
	var out []*Signal
	for _, c := range d.conjuncts {
		out = append(out, c.signals...)
	}
	return out
}

// Conjunctions returns the members of the disjunction.
func (d *Disjunct) Conjunctions() []*Conjunct {
	out := make([]*Conjunct, len(d.conjuncts))
	copy(out, d.conjuncts)
	return out
}

// Acquire offers sp to every conjunction.
func (d *Disjunct) Acquire(sp *spike.Spike, act Activation) bool {
	acquired := false
	for _, c := range d.conjuncts {
		if c.Acquire(sp, act) {
			acquired = true
		}
	}
	return acquired
}

// Evaluate reports whether any conjunction is satisfied.
func (d *Disjunct) Evaluate() bool {
	for _, c := range d.conjuncts {
		if c.Evaluate() {
			return true
		}
	}
	return false
}

// Dereference unbinds leaves bound to sp in every conjunction.
func (d *Disjunct) Dereference(sp *spike.Spike) []Binding {
	var out []Binding
	for _, c := range d.conjuncts {
		out = append(out, c.Dereference(sp)...)
	}
	return out
}

// Update expires leaves in every conjunction.
func (d *Disjunct) Update(act Activation) []*Signal {
	var out []*Signal
	for _, c := range d.conjuncts {
		out = append(out, c.Update(act)...)
	}
	return out
}

// Clone returns an unbound copy.
func (d *Disjunct) Clone() Constraint {
	conjs := make([]*Conjunct, len(d.conjuncts))
	for i, c := range d.conjuncts {
		conjs[i] = c.Clone().(*Conjunct)
	}
	return &Disjunct{conjuncts: conjs}
}

// Satisfied returns the first satisfied conjunction, if any.
func (d *Disjunct) Satisfied() (*Conjunct, bool) {
	for _, c := range d.conjuncts {
		if c.Evaluate() {
			return c, true
		}
	}
	return nil, false
}

func (d *Disjunct) String() string {
	parts := make([]string, len(d.conjuncts))
	for i, c := range d.conjuncts {
		parts[i] = c.String()
	}
	return strings.Join(parts, " | ")
}

func (*Disjunct) sealed() {}
