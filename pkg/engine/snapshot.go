package engine

import (
	"sort"

	"github.com/spikeflow/spikeflow/pkg/activation"
	"github.com/spikeflow/spikeflow/pkg/lane"
)

// SpikeInfo describes a live spike.
type SpikeInfo struct {
	ID        string   `json:"id"`
	Signal    string   `json:"signal"`
	Age       int64    `json:"age"`
	Group     string   `json:"group"`
	Parents   []string `json:"parents,omitempty"`
	Offspring int      `json:"offspring"`
	Held      bool     `json:"held"`
	Payload   any      `json:"payload,omitempty"`
}

// ActivationInfo describes a live activation.
type ActivationInfo struct {
	ID          string  `json:"id"`
	State       string  `json:"state"`
	Module      string  `json:"module,omitempty"`
	Phase       string  `json:"phase"`
	Constraint  string  `json:"constraint"`
	Specificity float64 `json:"specificity"`
	Pressured   bool    `json:"pressured"`
}

// StateInfo describes a registered state.
type StateInfo struct {
	Name    string   `json:"name"`
	Module  string   `json:"module,omitempty"`
	Signals []string `json:"signals"`
	Emits   string   `json:"emits,omitempty"`
	Write   []string `json:"write,omitempty"`
	Read    []string `json:"read,omitempty"`
	OneShot bool     `json:"one_shot"`
	Firing  int      `json:"firing"`
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Tick         int64      `json:"tick"`
	States       int        `json:"states"`
	Activations  int        `json:"activations"`
	Firing       int        `json:"firing"`
	Spikes       int        `json:"spikes"`
	Pending      int        `json:"pending"`
	ShuttingDown bool       `json:"shutting_down"`
	Lane         lane.Stats `json:"lane"`
}

// Spikes returns the live spikes, oldest first.
func (e *Engine) Spikes() []SpikeInfo {
	e.spikeMu.Lock()
	out := make([]SpikeInfo, 0, len(e.spikes))
	for _, sp := range e.spikes {
		if sp.Wiped() {
			continue
		}
		info := SpikeInfo{
			ID:        sp.ID(),
			Signal:    sp.Name(),
			Age:       sp.Age(),
			Group:     sp.CausalGroup().ID(),
			Offspring: len(sp.Offspring()),
			Held:      e.held[sp] > 0,
			Payload:   sp.Payload(),
		}
		for _, p := range sp.Parents() {
			info.Parents = append(info.Parents, p.ID())
		}
		out = append(out, info)
	}
	e.spikeMu.Unlock()
	return out
}

// Activations returns the live activations in creation order.
func (e *Engine) Activations() []ActivationInfo {
	acts := e.liveActivations()
	sort.Slice(acts, func(i, j int) bool { return acts[i].Seq() < acts[j].Seq() })

	out := make([]ActivationInfo, 0, len(acts))
	for _, act := range acts {
		out = append(out, ActivationInfo{
			ID:          act.ID(),
			State:       act.State().Name,
			Module:      act.State().Module,
			Phase:       act.Phase().String(),
			Constraint:  act.Constraint(),
			Specificity: act.Specificity(),
			Pressured:   act.Pressured(),
		})
	}
	return out
}

// States returns the registered states sorted by name.
func (e *Engine) States() []StateInfo {
	e.mu.RLock()
	out := make([]StateInfo, 0, len(e.states))
	for _, entry := range e.states {
		out = append(out, stateInfo(entry.state, len(entry.firing)))
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func stateInfo(st *activation.State, firing int) StateInfo {
	info := StateInfo{
		Name:    st.Name,
		Module:  st.Module,
		Signals: st.SignalNames(),
		Write:   st.Write,
		Read:    st.Read,
		OneShot: st.OneShot,
		Firing:  firing,
	}
	if st.Signal != nil {
		info.Emits = st.Signal.Name()
	}
	return info
}

// Stats returns a summary of the engine.
func (e *Engine) Stats() Stats {
	s := Stats{
		Tick:         e.tick.Load(),
		ShuttingDown: e.ShuttingDown(),
		Lane:         e.lane.Stats(),
	}
	e.mu.RLock()
	s.States = len(e.states)
	s.Activations = len(e.live)
	for _, entry := range e.states {
		s.Firing += len(entry.firing)
	}
	e.mu.RUnlock()

	e.spikeMu.Lock()
	s.Spikes = len(e.spikes)
	s.Pending = len(e.pending)
	e.spikeMu.Unlock()
	return s
}
