// Package activation implements the per-state activation state machine:
// binding spikes to a private constraint tree, ranking by specificity,
// yielding under pressure and firing the state body.
package activation

import (
	"context"
	"fmt"

	"github.com/spikeflow/spikeflow/pkg/constraint"
)

// StartupSignal is emitted once when the engine starts running. States
// declared without a constraint trigger on it.
const StartupSignal = ":startup"

// ShutdownSignal is emitted once when shutdown is requested.
const ShutdownSignal = ":shutdown"

// ResultKind tags the outcome of a state body.
type ResultKind int

const (
	// ResultNone means the body produced no output spike.
	ResultNone ResultKind = iota
	// ResultEmit asks the engine to emit the state's output signal.
	ResultEmit
	// ResultDelete asks the engine to remove the state.
	ResultDelete
)

// String returns the string representation of the kind.
func (k ResultKind) String() string {
	switch k {
	case ResultNone:
		return "none"
	case ResultEmit:
		return "emit"
	case ResultDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Result is what a state body returns.
type Result struct {
	Kind    ResultKind
	Payload any
	// Wipe removes older spikes of the output signal before emitting.
	Wipe bool
}

// None is the result of a body with no output.
func None() Result { return Result{Kind: ResultNone} }

// Emit is the result of a body that emits its state's output signal.
func Emit(payload any) Result { return Result{Kind: ResultEmit, Payload: payload} }

// Delete is the result of a body that removes its own state.
func Delete() Result { return Result{Kind: ResultDelete} }

// WithWipe returns r with Wipe set.
func (r Result) WithWipe() Result {
	r.Wipe = true
	return r
}

// Body is the behavior of a state. It runs on a worker goroutine.
type Body func(ctx context.Context, scope *Scope) Result

// State is a registered behavior unit.
type State struct {
	Name   string
	Module string
	// Constraint is the trigger condition in normal form.
	Constraint *constraint.Disjunct
	// Signal is the output signal, nil when the state emits nothing.
	Signal *constraint.Signal
	Write  []string
	Read   []string
	Body   Body
	// OneShot states are removed after their first firing.
	OneShot bool
}

// StateOption configures a State.
type StateOption func(*State)

// When sets the trigger condition.
func When(c constraint.Constraint) StateOption {
	return func(s *State) { s.Constraint = constraint.Normalize(c.Clone()) }
}

// Emits declares the output signal.
func Emits(sig *constraint.Signal) StateOption {
	return func(s *State) { s.Signal = sig }
}

// Writes declares the properties the body may write, push to or pop from.
func Writes(paths ...string) StateOption {
	return func(s *State) { s.Write = append(s.Write, paths...) }
}

// Reads declares the properties the body may read.
func Reads(paths ...string) StateOption {
	return func(s *State) { s.Read = append(s.Read, paths...) }
}

// OneShot removes the state after it fired once.
func OneShot() StateOption {
	return func(s *State) { s.OneShot = true }
}

// NewState declares a state. Without When the state triggers on
// StartupSignal.
func NewState(name string, body Body, opts ...StateOption) (*State, error) {
	if name == "" {
		return nil, fmt.Errorf("state name is required")
	}
	if body == nil {
		return nil, fmt.Errorf("state %q: body is required", name)
	}
	s := &State{Name: name, Body: body}
	for _, opt := range opts {
		opt(s)
	}
	if s.Constraint == nil {
		s.Constraint = constraint.Normalize(constraint.S(StartupSignal))
	}
	return s, nil
}

// SignalNames returns the distinct signal names the state listens to.
func (s *State) SignalNames() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sig := range s.Constraint.Signals() {
		if _, ok := seen[sig.Name()]; ok {
			continue
		}
		seen[sig.Name()] = struct{}{}
		out = append(out, sig.Name())
	}
	return out
}

// Resources returns the write resources consumed when the state fires. A
// state without write properties consumes a resource named after itself,
// so it fires at most once per causal group.
func (s *State) Resources() []string {
	if len(s.Write) > 0 {
		out := make([]string, len(s.Write))
		copy(out, s.Write)
		return out
	}
	return []string{"state:" + s.Name}
}
