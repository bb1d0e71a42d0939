// Package property implements the hierarchical property tree that state
// bodies read and write, and the least-privilege accessor they use to do so.
package property

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/spikeflow/spikeflow/pkg/constraint"
)

// Separator joins the segments of a property path.
const Separator = ":"

// Suffixes of the signals a property emits.
const (
	ChangedSuffix = "changed"
	PushedSuffix  = "pushed"
	PoppedSuffix  = "popped"
)

// Option configures a Property.
type Option func(*Property)

// WithDefault sets the initial value.
func WithDefault(v any) Option {
	return func(p *Property) { p.value = v }
}

// WithPermissions restricts which operations the property supports at all,
// independent of what a state declares.
func WithPermissions(read, write, push, pop bool) Option {
	return func(p *Property) {
		p.allowRead, p.allowWrite, p.allowPush, p.allowPop = read, write, push, pop
	}
}

// AlwaysSignalChanged emits the changed signal even when a write leaves the
// value equal.
func AlwaysSignalChanged() Option {
	return func(p *Property) { p.alwaysSignalChanged = true }
}

// KeepOnChanged keeps older changed spikes alive when the property changes
// again.
func KeepOnChanged() Option {
	return func(p *Property) { p.wipeOnChanged = false }
}

// Property is a named value with child properties. Writers hold its lock for
// the duration of a firing.
type Property struct {
	name string

	allowRead           bool
	allowWrite          bool
	allowPush           bool
	allowPop            bool
	alwaysSignalChanged bool
	wipeOnChanged       bool

	lock sync.Mutex

	mu         sync.RWMutex
	parentPath string
	value      any
	children   map[string]*Property
}

// New creates a property with every operation allowed.
func New(name string, opts ...Option) *Property {
	p := &Property{
		name:          name,
		allowRead:     true,
		allowWrite:    true,
		allowPush:     true,
		allowPop:      true,
		wipeOnChanged: true,
		children:      make(map[string]*Property),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the short name of the property.
func (p *Property) Name() string { return p.name }

// ID returns the full path of the property.
func (p *Property) ID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.parentPath == "" {
		return p.name
	}
	return p.parentPath + Separator + p.name
}

// SetParentPath places the property, and its children, under path.
func (p *Property) SetParentPath(path string) {
	p.mu.Lock()
	p.parentPath = path
	children := p.sortedChildren()
	p.mu.Unlock()

	id := p.ID()
	for _, c := range children {
		c.SetParentPath(id)
	}
}

// AllowRead reports whether the property may be read.
func (p *Property) AllowRead() bool { return p.allowRead }

// AllowWrite reports whether the property may be written.
func (p *Property) AllowWrite() bool { return p.allowWrite }

// AllowPush reports whether children may be added.
func (p *Property) AllowPush() bool { return p.allowPush }

// AllowPop reports whether children may be removed.
func (p *Property) AllowPop() bool { return p.allowPop }

// WipeOnChanged reports whether older changed spikes are wiped when a new
// one is emitted.
func (p *Property) WipeOnChanged() bool { return p.wipeOnChanged }

// Read returns the current value.
func (p *Property) Read() any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Write sets the value and returns the signals to emit. Writing an equal
// value emits nothing unless AlwaysSignalChanged is set.
func (p *Property) Write(v any) []*constraint.Signal {
	p.mu.Lock()
	unchanged := reflect.DeepEqual(p.value, v)
	p.value = v
	p.mu.Unlock()

	if unchanged && !p.alwaysSignalChanged {
		return nil
	}
	return []*constraint.Signal{p.ChangedSignal()}
}

// Push adds child under p and returns the signals to emit. Pushing a name
// that already exists is a no-op.
func (p *Property) Push(child *Property) []*constraint.Signal {
	p.mu.Lock()
	if _, exists := p.children[child.name]; exists {
		p.mu.Unlock()
		return nil
	}
	p.children[child.name] = child
	p.mu.Unlock()

	child.SetParentPath(p.ID())
	return []*constraint.Signal{p.PushedSignal()}
}

// Pop removes the named child and returns the signals to emit.
func (p *Property) Pop(name string) []*constraint.Signal {
	p.mu.Lock()
	if _, exists := p.children[name]; !exists {
		p.mu.Unlock()
		return nil
	}
	delete(p.children, name)
	p.mu.Unlock()

	return []*constraint.Signal{p.PoppedSignal()}
}

// Child returns the named direct child.
func (p *Property) Child(name string) (*Property, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.children[name]
	return c, ok
}

// Children returns the direct children sorted by name.
func (p *Property) Children() []*Property {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sortedChildren()
}

func (p *Property) sortedChildren() []*Property {
	out := make([]*Property, 0, len(p.children))
	for _, c := range p.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// GatherChildren returns every descendant of p.
func (p *Property) GatherChildren() []*Property {
	var out []*Property
	for _, c := range p.Children() {
		out = append(out, c)
		out = append(out, c.GatherChildren()...)
	}
	return out
}

// ChangedSignal is emitted when the value changes.
func (p *Property) ChangedSignal() *constraint.Signal {
	return constraint.S(p.ID() + Separator + ChangedSuffix)
}

// PushedSignal is emitted when a child is added.
func (p *Property) PushedSignal() *constraint.Signal {
	return constraint.S(p.ID() + Separator + PushedSuffix)
}

// PoppedSignal is emitted when a child is removed.
func (p *Property) PoppedSignal() *constraint.Signal {
	return constraint.S(p.ID() + Separator + PoppedSuffix)
}

// Signals returns every signal the property can emit.
func (p *Property) Signals() []*constraint.Signal {
	return []*constraint.Signal{p.ChangedSignal(), p.PushedSignal(), p.PoppedSignal()}
}

// Path joins segments into a property path.
func Path(segments ...string) string {
	return strings.Join(segments, Separator)
}
