package engine

import (
	"fmt"

	"github.com/spikeflow/spikeflow/pkg/activation"
	"github.com/spikeflow/spikeflow/pkg/constraint"
	"github.com/spikeflow/spikeflow/pkg/spike"
)

type pendingSpike struct {
	sp   *spike.Spike
	wipe bool
}

type emitOptions struct {
	payload any
	parents []*spike.Spike
	wipe    bool
}

// EmitOption configures Emit.
type EmitOption func(*emitOptions)

// WithPayload attaches a payload to the spike.
func WithPayload(v any) EmitOption {
	return func(o *emitOptions) { o.payload = v }
}

// WithParents makes the spike offspring of parents and places it in their
// causal group.
func WithParents(parents ...*spike.Spike) EmitOption {
	return func(o *emitOptions) { o.parents = append(o.parents, parents...) }
}

// WithWipe wipes every live spike of the same signal when the new spike
// is ingested.
func WithWipe() EmitOption {
	return func(o *emitOptions) { o.wipe = true }
}

// Emit queues a spike for signal. It becomes visible to activations at the
// next tick. Without parents the spike starts a fresh causal group.
func (e *Engine) Emit(signal string, opts ...EmitOption) (*spike.Spike, error) {
	if signal == "" {
		return nil, fmt.Errorf("signal name is required")
	}
	if e.ShuttingDown() && signal != activation.ShutdownSignal {
		return nil, &ShuttingDownError{Signal: signal}
	}
	var o emitOptions
	for _, opt := range opts {
		opt(&o)
	}
	sp := e.newSpike(signal, o.parents, o.payload, false)
	e.enqueue(sp, o.wipe)
	return sp, nil
}

// EmitFrom queues the output of a firing. The spike joins the merged causal
// group of its parents unless sig is detached.
func (e *Engine) EmitFrom(parents []*spike.Spike, sig *constraint.Signal, payload any, wipe bool) {
	sp := e.newSpike(sig.Name(), parents, payload, sig.Detached())
	e.enqueue(sp, wipe)
}

func (e *Engine) newSpike(name string, parents []*spike.Spike, payload any, detached bool) *spike.Spike {
	var group *spike.CausalGroup
	if !detached {
		for _, p := range parents {
			if p == nil || p.Wiped() {
				continue
			}
			if group == nil {
				group = p.CausalGroup()
			} else {
				group = group.Merge(p.CausalGroup())
			}
		}
	}
	return spike.New(name, group, payload, parents...)
}

func (e *Engine) enqueue(sp *spike.Spike, wipe bool) {
	e.spikeMu.Lock()
	e.pending = append(e.pending, pendingSpike{sp: sp, wipe: wipe})
	e.spikeMu.Unlock()
	e.log.Debug("spike queued", "spike", sp.ID(), "signal", sp.Name(), "wipe", wipe)
}

// hold keeps spikes out of the sweep while a firing that consumed them runs.
func (e *Engine) hold(spikes []*spike.Spike) {
	e.spikeMu.Lock()
	defer e.spikeMu.Unlock()
	for _, sp := range spikes {
		e.held[sp]++
	}
}

func (e *Engine) release(spikes []*spike.Spike) {
	e.spikeMu.Lock()
	defer e.spikeMu.Unlock()
	for _, sp := range spikes {
		if e.held[sp]--; e.held[sp] <= 0 {
			delete(e.held, sp)
		}
	}
}

func isAncestor(candidate, sp *spike.Spike) bool {
	for _, p := range sp.Parents() {
		if p == candidate || isAncestor(candidate, p) {
			return true
		}
	}
	return false
}
