package engine

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/spikeflow/spikeflow/pkg/activation"
	"github.com/spikeflow/spikeflow/pkg/events"
	"github.com/spikeflow/spikeflow/pkg/journal"
	"github.com/spikeflow/spikeflow/pkg/spike"
)

// Run emits StartupSignal and ticks until ctx ends or Shutdown is called.
// One last tick delivers ShutdownSignal, then in-flight firings get
// ShutdownTimeout to finish. Run returns ctx.Err() when ctx ended the loop.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	if _, err := e.Emit(activation.StartupSignal); err != nil {
		return err
	}
	e.log.Info("engine started", "tick_duration", e.config.TickDuration, "states", len(e.States()))

	ticker := time.NewTicker(e.config.TickDuration)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			e.Shutdown()
			break loop
		case <-e.shutdownCh:
			break loop
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil && ctx.Err() == nil {
				e.log.Error("tick failed", "tick", e.tick.Load(), "error", err)
			}
		}
	}

	final := context.WithoutCancel(ctx)
	if err := e.Tick(final); err != nil {
		e.log.Error("final tick failed", "error", err)
	}
	if e.config.ShutdownTimeout > 0 {
		waitCtx, cancel := context.WithTimeout(final, e.config.ShutdownTimeout)
		defer cancel()
		if err := e.Wait(waitCtx); err != nil {
			e.log.Warn("firings still running after shutdown timeout", "error", err)
		}
	}
	e.log.Info("engine stopped", "ticks", e.tick.Load())
	return runErr
}

// Running reports whether Run is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Tick advances the engine by one tick: age and ingest spikes, offer them
// to activations, expire bindings, fire ready activations in order of
// specificity and sweep stale spikes. Every acquisition of a tick completes
// before the first firing is dispatched.
func (e *Engine) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()
	tick := e.tick.Add(1)
	ctx, span := engineTracer().Start(ctx, spanTick, trace.WithAttributes(
		attribute.Int64("spikeflow.tick", tick),
	))
	defer span.End()

	e.ingest(ctx, tick)
	if err := e.offer(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	for _, act := range e.liveActivations() {
		act.Update()
	}
	e.fire(ctx)
	e.sweep(ctx)

	e.metrics.RecordTick(time.Since(start))
	return nil
}

func (e *Engine) ingest(ctx context.Context, tick int64) {
	e.spikeMu.Lock()
	for _, sp := range e.spikes {
		sp.Tick()
	}
	pending := e.pending
	e.pending = nil
	e.spikeMu.Unlock()

	for _, p := range pending {
		sp := p.sp
		if sp.Wiped() {
			continue
		}
		if p.wipe {
			e.wipeSignal(sp)
		}
		e.spikeMu.Lock()
		e.spikes = append(e.spikes, sp)
		e.spikeMu.Unlock()

		e.arrivals.observe(sp.Name(), tick)
		e.metrics.RecordSpikeEmitted(sp.Name())
		group := sp.CausalGroup().ID()
		e.record(ctx, journal.KindSpikeEmitted, sp.ID(), sp.Name(), map[string]string{"group": group})
		e.events.BroadcastSpike(events.TypeSpikeEmitted, sp.ID(), sp.Name(), sp.Age(), group)
	}
}

// wipeSignal wipes the live spikes sharing fresh's signal, except its own
// ancestors.
func (e *Engine) wipeSignal(fresh *spike.Spike) {
	e.spikeMu.Lock()
	var victims []*spike.Spike
	for _, sp := range e.spikes {
		if sp.Name() == fresh.Name() && !sp.Wiped() && !isAncestor(sp, fresh) {
			victims = append(victims, sp)
		}
	}
	e.spikeMu.Unlock()

	for _, sp := range victims {
		e.log.Debug("wiping superseded spike", "spike", sp.ID(), "signal", sp.Name())
		sp.Wipe(false)
	}
}

func (e *Engine) offer(ctx context.Context) error {
	ctx, span := engineTracer().Start(ctx, spanAcquire)
	defer span.End()

	e.spikeMu.Lock()
	spikes := make([]*spike.Spike, len(e.spikes))
	copy(spikes, e.spikes)
	e.spikeMu.Unlock()

	e.mu.RLock()
	work := make(map[*activation.Activation][]*spike.Spike)
	var order []*activation.Activation
	for _, sp := range spikes {
		if sp.Wiped() {
			continue
		}
		for act := range e.needy[sp.Name()] {
			if _, ok := work[act]; !ok {
				order = append(order, act)
			}
			work[act] = append(work[act], sp)
		}
	}
	e.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.AcquireParallelism)
	for _, act := range order {
		act, offered := act, work[act]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, sp := range offered {
				act.Acquire(sp)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	type satisfied struct {
		act  *activation.Activation
		name string
	}
	var drop []satisfied
	for _, act := range order {
		seen := make(map[string]struct{})
		for _, sp := range work[act] {
			if _, ok := seen[sp.Name()]; ok {
				continue
			}
			seen[sp.Name()] = struct{}{}
			if !act.NeedsSignal(sp.Name()) {
				drop = append(drop, satisfied{act: act, name: sp.Name()})
			}
		}
	}
	e.mu.Lock()
	for _, d := range drop {
		removeAct(e.needy, d.name, d.act)
	}
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Int("spikeflow.spikes", len(spikes)),
		attribute.Int("spikeflow.activations", len(order)),
	)
	return nil
}

type candidate struct {
	act         *activation.Activation
	specificity float64
}

// fire claims ready activations, most specific first. A claim may pressure
// or dereference later candidates, so readiness is checked again before
// each claim.
func (e *Engine) fire(ctx context.Context) {
	var ready []candidate
	for _, act := range e.liveActivations() {
		if act.Ready() {
			ready = append(ready, candidate{act: act, specificity: act.Specificity()})
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].specificity != ready[j].specificity {
			return ready[i].specificity > ready[j].specificity
		}
		return ready[i].act.Seq() < ready[j].act.Seq()
	})

	for _, c := range ready {
		if !c.act.Ready() {
			continue
		}
		if !c.act.Claim() {
			e.metrics.RecordConsentRefused()
			continue
		}
		e.dispatch(ctx, c.act)
	}
}

func (e *Engine) sweep(ctx context.Context) {
	e.spikeMu.Lock()
	candidates := make([]*spike.Spike, 0, len(e.spikes))
	for _, sp := range e.spikes {
		if e.held[sp] == 0 {
			candidates = append(candidates, sp)
		}
	}
	e.spikeMu.Unlock()

	for _, sp := range candidates {
		if !sp.Wiped() && sp.CausalGroup().Stale(sp) {
			sp.Wipe(false)
		}
	}

	e.spikeMu.Lock()
	var removed []*spike.Spike
	kept := e.spikes[:0]
	for _, sp := range e.spikes {
		if sp.Wiped() {
			removed = append(removed, sp)
			continue
		}
		kept = append(kept, sp)
	}
	for i := len(kept); i < len(e.spikes); i++ {
		e.spikes[i] = nil
	}
	e.spikes = kept
	liveSpikes := len(kept)
	e.spikeMu.Unlock()

	for _, sp := range removed {
		e.metrics.RecordSpikeWiped()
		e.record(ctx, journal.KindSpikeWiped, sp.ID(), sp.Name(), map[string]string{
			"age": strconv.FormatInt(sp.Age(), 10),
		})
		e.events.BroadcastSpike(events.TypeSpikeWiped, sp.ID(), sp.Name(), sp.Age(), sp.CausalGroup().ID())
	}

	e.mu.RLock()
	liveActs := len(e.live)
	e.mu.RUnlock()
	e.metrics.SetLive(liveSpikes, liveActs)
}
