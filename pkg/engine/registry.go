package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/spikeflow/spikeflow/pkg/activation"
	"github.com/spikeflow/spikeflow/pkg/events"
	"github.com/spikeflow/spikeflow/pkg/journal"
	"github.com/spikeflow/spikeflow/pkg/property"
)

// AddModule registers the module's properties, then its states.
func (e *Engine) AddModule(m *Module) error {
	if m == nil || m.name == "" {
		return fmt.Errorf("module name is required")
	}

	e.mu.Lock()
	if _, ok := e.modules[m.name]; ok {
		e.mu.Unlock()
		return &ModuleRegistrationError{Module: m.name, Cause: fmt.Errorf("already registered")}
	}
	for _, p := range m.props {
		if _, ok := e.props[p.ID()]; ok {
			e.mu.Unlock()
			return &ModuleRegistrationError{Module: m.name, Cause: &PropertyExistsError{Path: p.ID()}}
		}
	}
	for _, p := range m.props {
		e.props[p.ID()] = p
	}
	e.modules[m.name] = m
	e.mu.Unlock()

	for _, st := range m.states {
		if err := e.AddState(st); err != nil {
			return &ModuleRegistrationError{Module: m.name, Cause: err}
		}
	}
	e.log.Info("module registered", "module", m.name, "properties", len(m.props), "states", len(m.states))
	return nil
}

// AddProperty registers a root property outside of any module.
func (e *Engine) AddProperty(p *property.Property) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.props[p.ID()]; ok {
		return &PropertyExistsError{Path: p.ID()}
	}
	e.props[p.ID()] = p
	return nil
}

// Property looks up a property, or a pushed child, by full path.
func (e *Engine) Property(path string) (*property.Property, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lookupLocked(path)
}

func (e *Engine) lookupLocked(path string) (*property.Property, bool) {
	if p, ok := e.props[path]; ok {
		return p, true
	}
	for id, root := range e.props {
		prefix := id + property.Separator
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		p := root
		for _, name := range strings.Split(strings.TrimPrefix(path, prefix), property.Separator) {
			child, ok := p.Child(name)
			if !ok {
				p = nil
				break
			}
			p = child
		}
		if p != nil {
			return p, true
		}
	}
	return nil, false
}

// Conf returns a module configuration value. Engine configuration wins
// over the module's defaults.
func (e *Engine) Conf(module, key string) any {
	e.mu.RLock()
	v, ok := e.config.Modules[module][key]
	m, known := e.modules[module]
	e.mu.RUnlock()
	if ok {
		return v
	}
	if !known {
		return nil
	}
	v, _ = m.defaultConf(key)
	return v
}

// SetModuleConf replaces the per-module configuration. Bodies see the new
// values from their next Conf call.
func (e *Engine) SetModuleConf(modules map[string]map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.Modules = modules
}

// AddState registers st and arms its first activation. Every property the
// state declares must already exist.
func (e *Engine) AddState(st *activation.State) error {
	if st == nil {
		return fmt.Errorf("state cannot be nil")
	}

	e.mu.Lock()
	if _, ok := e.states[st.Name]; ok {
		e.mu.Unlock()
		return &StateExistsError{Name: st.Name}
	}
	for _, paths := range [][]string{st.Write, st.Read} {
		for _, path := range paths {
			if _, ok := e.lookupLocked(path); !ok {
				e.mu.Unlock()
				return &UnknownPropertyError{State: st.Name, Property: path}
			}
		}
	}
	entry := &stateEntry{state: st, firing: make(actSet)}
	e.states[st.Name] = entry
	for _, name := range producedSignals(st) {
		e.producers[name]++
	}
	e.armLocked(entry)
	e.mu.Unlock()

	e.log.Debug("state added", "state", st.Name, "signals", st.SignalNames())
	e.record(context.Background(), journal.KindStateAdded, st.Name, st.Name, map[string]string{
		"constraint": st.Constraint.String(),
	})
	return nil
}

// RmState unregisters a state. Its pending activation is aborted and any
// firing in progress completes without effect.
func (e *Engine) RmState(name string) error {
	e.mu.Lock()
	entry, ok := e.states[name]
	if !ok {
		e.mu.Unlock()
		return &UnknownStateError{Name: name}
	}
	delete(e.states, name)
	e.dropProducerLocked(entry.state)
	var acts []*activation.Activation
	if entry.armed != nil {
		acts = append(acts, entry.armed)
		e.disarmLocked(entry.armed)
	}
	for act := range entry.firing {
		acts = append(acts, act)
	}
	e.mu.Unlock()

	ctx := context.Background()
	for _, act := range acts {
		act.Abort()
		e.record(ctx, journal.KindActivationAborted, act.ID(), name, nil)
		e.events.BroadcastActivation(events.TypeActivationAborted, act.ID(), name, "state removed")
	}
	e.record(ctx, journal.KindStateRemoved, name, name, nil)
	e.log.Info("state removed", "state", name, "aborted", len(acts))
	return nil
}

// HasState reports whether name is registered.
func (e *Engine) HasState(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.states[name]
	return ok
}

func (e *Engine) dropProducerLocked(st *activation.State) {
	for _, name := range producedSignals(st) {
		if e.producers[name]--; e.producers[name] <= 0 {
			delete(e.producers, name)
		}
	}
}

// producedSignals lists the signals a state can cause: its output signal
// and the change signals of the properties it writes.
func producedSignals(st *activation.State) []string {
	var out []string
	if st.Signal != nil {
		out = append(out, st.Signal.Name())
	}
	for _, path := range st.Write {
		out = append(out,
			property.Path(path, property.ChangedSuffix),
			property.Path(path, property.PushedSuffix),
			property.Path(path, property.PoppedSuffix),
		)
	}
	return out
}

func (e *Engine) armLocked(entry *stateEntry) {
	act := activation.New(entry.state, e, e.log)
	entry.armed = act
	e.live[act] = entry
	for _, name := range entry.state.SignalNames() {
		addAct(e.subscribers, name, act)
		addAct(e.needy, name, act)
	}
}

func (e *Engine) disarmLocked(act *activation.Activation) {
	entry, ok := e.live[act]
	if !ok {
		return
	}
	delete(e.live, act)
	for _, name := range act.State().SignalNames() {
		removeAct(e.subscribers, name, act)
		removeAct(e.needy, name, act)
	}
	if entry.armed == act {
		entry.armed = nil
	}
}

func (e *Engine) liveActivations() []*activation.Activation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*activation.Activation, 0, len(e.live))
	for act := range e.live {
		out = append(out, act)
	}
	return out
}
