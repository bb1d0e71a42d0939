package property

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spikeflow/spikeflow/pkg/constraint"
	"github.com/spikeflow/spikeflow/pkg/logger"
)

// Operations checked by the accessor.
const (
	OpRead  = "read"
	OpWrite = "write"
	OpPush  = "push"
	OpPop   = "pop"
)

// PermissionError is returned when a state touches a property it did not
// declare, or performs an operation the property does not allow.
type PermissionError struct {
	Owner    string
	Property string
	Op       string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("state %q is not allowed to %s property %q", e.Owner, e.Op, e.Property)
}

// IsPermissionError reports whether err is a *PermissionError.
func IsPermissionError(err error) bool {
	_, ok := err.(*PermissionError)
	return ok
}

// Emitter turns the signals returned by property operations into spikes.
type Emitter interface {
	EmitSignal(sig *constraint.Signal, payload any, wipe bool)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(sig *constraint.Signal, payload any, wipe bool)

// EmitSignal calls f.
func (f EmitterFunc) EmitSignal(sig *constraint.Signal, payload any, wipe bool) {
	f(sig, payload, wipe)
}

// Accessor gives one firing access to exactly the properties its state
// declared, including their children. Writable properties stay locked until
// Release. Read-only properties are frozen when the accessor is created.
type Accessor struct {
	owner string
	emit  Emitter
	log   logger.Logger

	mu        sync.Mutex
	props     map[string]*Property
	writable  map[string]bool
	snapshots map[string]snapshot
	locked    []*Property
	released  bool
}

type snapshot struct {
	value    any
	children []string
}

// NewAccessor locks the writable properties and freezes the readable ones.
// Locks are taken in path order so concurrent firings never deadlock.
func NewAccessor(owner string, write, read []*Property, emit Emitter, log logger.Logger) *Accessor {
	if log == nil {
		log = logger.Global()
	}
	a := &Accessor{
		owner:     owner,
		emit:      emit,
		log:       log.With("component", "property", "state", owner),
		props:     make(map[string]*Property),
		writable:  make(map[string]bool),
		snapshots: make(map[string]snapshot),
	}

	for _, p := range withDescendants(write) {
		a.props[p.ID()] = p
		a.writable[p.ID()] = true
	}
	for _, p := range withDescendants(read) {
		if _, ok := a.props[p.ID()]; !ok {
			a.props[p.ID()] = p
		}
	}

	ids := make([]string, 0, len(a.props))
	for id := range a.props {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := a.props[id]
		p.lock.Lock()
		if a.writable[id] {
			a.locked = append(a.locked, p)
			continue
		}
		a.snapshots[id] = snapshot{value: p.Read(), children: childIDs(p)}
		p.lock.Unlock()
	}
	return a
}

func withDescendants(props []*Property) []*Property {
	var out []*Property
	for _, p := range props {
		out = append(out, p)
		out = append(out, p.GatherChildren()...)
	}
	return out
}

func childIDs(p *Property) []string {
	children := p.Children()
	out := make([]string, len(children))
	for i, c := range children {
		out[i] = c.ID()
	}
	return out
}

func (a *Accessor) deny(id, op string) error {
	err := &PermissionError{Owner: a.owner, Property: id, Op: op}
	a.log.Error("property access denied", "property", id, "op", op)
	return err
}

// Get returns the value of the property at id.
func (a *Accessor) Get(id string) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.props[id]
	if !ok || !p.AllowRead() {
		return nil, a.deny(id, OpRead)
	}
	if snap, frozen := a.snapshots[id]; frozen {
		return snap.value, nil
	}
	return p.Read(), nil
}

// Set writes v to the property at id and emits its changed signal.
func (a *Accessor) Set(id string, v any) error {
	a.mu.Lock()
	p, ok := a.props[id]
	if !ok || !a.writable[id] || !p.AllowWrite() {
		a.mu.Unlock()
		return a.deny(id, OpWrite)
	}
	a.mu.Unlock()

	for _, sig := range p.Write(v) {
		a.emitSignal(sig, v, p.WipeOnChanged())
	}
	return nil
}

// Push adds child under the property at parentID. The child becomes
// writable through this accessor.
func (a *Accessor) Push(parentID string, child *Property) error {
	a.mu.Lock()
	p, ok := a.props[parentID]
	if !ok || !a.writable[parentID] || !p.AllowPush() {
		a.mu.Unlock()
		return a.deny(parentID, OpPush)
	}
	a.mu.Unlock()

	signals := p.Push(child)
	if len(signals) == 0 {
		return nil
	}

	a.mu.Lock()
	for _, c := range withDescendants([]*Property{child}) {
		c.lock.Lock()
		a.locked = append(a.locked, c)
		a.props[c.ID()] = c
		a.writable[c.ID()] = true
	}
	a.mu.Unlock()

	for _, sig := range signals {
		a.emitSignal(sig, child.ID(), false)
	}
	return nil
}

// Pop removes the named child of the property at parentID.
func (a *Accessor) Pop(parentID, name string) error {
	a.mu.Lock()
	p, ok := a.props[parentID]
	if !ok || !a.writable[parentID] || !p.AllowPop() {
		a.mu.Unlock()
		return a.deny(parentID, OpPop)
	}
	a.mu.Unlock()

	child, exists := p.Child(name)
	signals := p.Pop(name)
	if !exists || len(signals) == 0 {
		return nil
	}

	a.mu.Lock()
	for _, c := range withDescendants([]*Property{child}) {
		delete(a.props, c.ID())
		delete(a.writable, c.ID())
	}
	a.mu.Unlock()

	for _, sig := range signals {
		a.emitSignal(sig, child.ID(), false)
	}
	return nil
}

// Enum returns the paths of the children of the property at id.
func (a *Accessor) Enum(id string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.props[id]
	if !ok || !p.AllowRead() {
		return nil, a.deny(id, OpRead)
	}
	if snap, frozen := a.snapshots[id]; frozen {
		out := make([]string, len(snap.children))
		copy(out, snap.children)
		return out, nil
	}
	return childIDs(p), nil
}

// Release unlocks the writable properties. Calling it more than once is
// safe.
func (a *Accessor) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	a.released = true
	for i := len(a.locked) - 1; i >= 0; i-- {
		a.locked[i].lock.Unlock()
	}
	a.locked = nil
}

func (a *Accessor) emitSignal(sig *constraint.Signal, payload any, wipe bool) {
	if a.emit == nil {
		return
	}
	a.emit.EmitSignal(sig, payload, wipe)
}
