package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spikeflow/spikeflow/pkg/activation"
	"github.com/spikeflow/spikeflow/pkg/constraint"
	"github.com/spikeflow/spikeflow/pkg/events"
	"github.com/spikeflow/spikeflow/pkg/journal"
	"github.com/spikeflow/spikeflow/pkg/lane"
	"github.com/spikeflow/spikeflow/pkg/spike"
)

// dispatch moves a claimed activation out of the live set, arms the next
// activation of its state and hands the body to the lane. When the lane is
// full or closed the body runs on its own goroutine, so the tick loop never
// blocks on a firing.
func (e *Engine) dispatch(ctx context.Context, act *activation.Activation) {
	name := act.State().Name

	e.mu.Lock()
	entry, ok := e.live[act]
	if !ok {
		e.mu.Unlock()
		act.Abort()
		return
	}
	e.disarmLocked(act)
	entry.firing[act] = struct{}{}
	if _, registered := e.states[name]; registered {
		if entry.state.OneShot {
			delete(e.states, name)
			e.dropProducerLocked(entry.state)
		} else {
			e.armLocked(entry)
		}
	}
	e.mu.Unlock()

	parents := act.Parents()
	e.hold(parents)
	e.inflight.Add(1)

	e.record(ctx, journal.KindActivationFired, act.ID(), name, map[string]string{
		"constraint": act.Constraint(),
	})
	e.events.BroadcastActivation(events.TypeActivationFired, act.ID(), name, "")

	ctx, span := engineTracer().Start(ctx, spanDispatch, trace.WithAttributes(
		attribute.String("spikeflow.state", name),
		attribute.String("spikeflow.activation", act.ID()),
	))
	defer span.End()

	fireCtx := context.WithoutCancel(ctx)
	task := lane.NewTaskFunc(act.ID(), func(context.Context) error {
		return e.runFiring(fireCtx, entry, act, parents)
	})
	if !e.lane.TrySubmit(task) {
		span.SetAttributes(attribute.Bool("spikeflow.lane_overflow", true))
		e.log.Debug("lane unavailable, firing on dedicated goroutine", "state", name)
		go func() { _ = e.runFiring(fireCtx, entry, act, parents) }()
	}
}

// runFiring executes the body and applies its result. Effects of an
// activation aborted while it ran are discarded.
func (e *Engine) runFiring(ctx context.Context, entry *stateEntry, act *activation.Activation, parents []*spike.Spike) error {
	defer e.inflight.Done()
	defer e.release(parents)

	name := entry.state.Name
	start := time.Now()
	res, err := act.Fire(ctx, &firingHost{Engine: e, act: act})
	elapsed := time.Since(start)

	e.mu.Lock()
	delete(entry.firing, act)
	e.mu.Unlock()

	if err != nil {
		act.Abort()
		attrs := []any{"state", name, "activation", act.ID(), "error", err}
		var pe *activation.PanicError
		if errors.As(err, &pe) {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
		e.log.Error("state body failed", attrs...)
		e.metrics.RecordFiringFailure(name)
		e.record(ctx, journal.KindActivationFailed, act.ID(), name, map[string]string{"error": err.Error()})
		e.events.BroadcastActivation(events.TypeActivationFailed, act.ID(), name, err.Error())
		return err
	}

	if !act.Complete() {
		e.log.Debug("discarding result of removed state", "state", name, "activation", act.ID())
		return nil
	}

	switch res.Kind {
	case activation.ResultEmit:
		if entry.state.Signal == nil {
			e.log.Warn("state emitted without an output signal", "state", name)
			break
		}
		e.EmitFrom(parents, entry.state.Signal, res.Payload, res.Wipe)
	case activation.ResultDelete:
		if err := e.RmState(name); err != nil && !IsUnknownStateError(err) {
			e.log.Warn("failed to remove state after firing", "state", name, "error", err)
		}
	}

	e.metrics.RecordFiring(ctx, name, res.Kind.String(), elapsed)
	e.record(ctx, journal.KindActivationCompleted, act.ID(), name, map[string]string{
		"result":   res.Kind.String(),
		"duration": elapsed.String(),
	})
	e.events.BroadcastActivation(events.TypeActivationCompleted, act.ID(), name, res.Kind.String())
	return nil
}

// firingHost is the engine as seen by one firing. Emissions stop once the
// activation has been aborted.
type firingHost struct {
	*Engine
	act *activation.Activation
}

func (h *firingHost) EmitFrom(parents []*spike.Spike, sig *constraint.Signal, payload any, wipe bool) {
	if h.act.Phase() == activation.PhaseAborted {
		return
	}
	h.Engine.EmitFrom(parents, sig, payload, wipe)
}

func (e *Engine) record(ctx context.Context, kind journal.Kind, subject, name string, detail map[string]string) {
	entry := &journal.Entry{
		Kind:    kind,
		Subject: subject,
		Name:    name,
		Tick:    e.tick.Load(),
		Detail:  detail,
		Time:    time.Now().UTC(),
	}
	if err := e.journal.Append(ctx, entry); err != nil {
		e.log.Warn("journal append failed", "kind", string(kind), "subject", subject, "error", err)
	}
}
