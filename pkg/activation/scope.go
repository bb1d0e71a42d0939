package activation

import (
	"github.com/spikeflow/spikeflow/pkg/property"
	"github.com/spikeflow/spikeflow/pkg/spike"
)

// Scope is what a state body sees while it runs: the properties it
// declared, the spikes that triggered it, and a few engine controls.
type Scope struct {
	*property.Accessor

	state   *State
	host    Host
	parents []*spike.Spike
}

// State returns the firing state.
func (s *Scope) State() *State { return s.state }

// Parents returns the spikes that satisfied the constraint.
func (s *Scope) Parents() []*spike.Spike {
	out := make([]*spike.Spike, len(s.parents))
	copy(out, s.parents)
	return out
}

// Payload returns the payload of the triggering spike for signal.
func (s *Scope) Payload(signal string) (any, bool) {
	for _, sp := range s.parents {
		if sp.Name() == signal {
			return sp.Payload(), true
		}
	}
	return nil, false
}

// Conf returns a configuration value of the state's own module.
func (s *Scope) Conf(key string) any {
	return s.host.Conf(s.state.Module, key)
}

// ConfOf returns a configuration value of another module.
func (s *Scope) ConfOf(module, key string) any {
	return s.host.Conf(module, key)
}

// AddState registers a new state while the engine runs.
func (s *Scope) AddState(st *State) error {
	return s.host.AddState(st)
}

// Shutdown asks the engine to stop.
func (s *Scope) Shutdown() { s.host.Shutdown() }

// ShuttingDown reports whether shutdown was requested.
func (s *Scope) ShuttingDown() bool { return s.host.ShuttingDown() }
