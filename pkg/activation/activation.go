package activation

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spikeflow/spikeflow/pkg/constraint"
	"github.com/spikeflow/spikeflow/pkg/logger"
	"github.com/spikeflow/spikeflow/pkg/property"
	"github.com/spikeflow/spikeflow/pkg/spike"
)

// Phase is the lifecycle position of an activation.
type Phase int

const (
	PhasePending Phase = iota
	PhasePartiallyBound
	PhaseSatisfied
	PhaseFiring
	PhaseCompleted
	PhaseAborted
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhasePartiallyBound:
		return "partially_bound"
	case PhaseSatisfied:
		return "satisfied"
	case PhaseFiring:
		return "firing"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted
}

// Context is what an activation needs from the engine that owns it.
type Context interface {
	// SecsToTicks converts seconds to whole ticks.
	SecsToTicks(seconds float64) int64
	// SubscriberCount returns how many live activations listen to signal.
	SubscriberCount(signal string) int
	// EstimateETA returns the expected number of ticks until every named
	// signal has a spike, or +Inf when that is not expected at all.
	EstimateETA(signals []string) float64
	// MaxPressureWait bounds, in ticks, how long a pressured activation may
	// keep a contested spike.
	MaxPressureWait() int64
	// Reacquire registers renewed interest of act in sig.
	Reacquire(act *Activation, sig *constraint.Signal)
	// Yielded is told when act gave sp up under pressure.
	Yielded(act *Activation, sp *spike.Spike)
}

// Host is what a firing needs from the engine.
type Host interface {
	Property(path string) (*property.Property, bool)
	// EmitFrom queues a spike for sig whose parents are the given spikes.
	EmitFrom(parents []*spike.Spike, sig *constraint.Signal, payload any, wipe bool)
	Conf(module, key string) any
	Shutdown()
	ShuttingDown() bool
	AddState(st *State) error
}

var activationSeq atomic.Uint64

// Activation is one pending firing of a state. It owns a private copy of
// the state's constraint.
type Activation struct {
	id        string
	seq       uint64
	state     *State
	ctx       Context
	log       logger.Logger
	resources []string

	mu         sync.Mutex
	constraint *constraint.Disjunct
	phase      Phase
	pressured  map[*spike.Spike]struct{}
	deathClock int64
	parents    []*spike.Spike
}

// New creates an activation for st.
func New(st *State, ctx Context, log logger.Logger) *Activation {
	if log == nil {
		log = logger.Global()
	}
	id := uuid.NewString()
	return &Activation{
		id:         id,
		seq:        activationSeq.Add(1),
		state:      st,
		ctx:        ctx,
		log:        log.With("component", "activation", "state", st.Name, "activation", id),
		resources:  st.Resources(),
		constraint: st.Constraint.Clone().(*constraint.Disjunct),
		phase:      PhasePending,
		pressured:  make(map[*spike.Spike]struct{}),
	}
}

// ID returns the unique identifier of the activation.
func (a *Activation) ID() string { return a.id }

// Seq orders activations by creation.
func (a *Activation) Seq() uint64 { return a.seq }

// State returns the state the activation belongs to.
func (a *Activation) State() *State { return a.state }

// Resources returns the write resources consumed on firing.
func (a *Activation) Resources() []string { return a.resources }

// WriteProps returns the property paths the state may write.
func (a *Activation) WriteProps() []string { return append([]string(nil), a.state.Write...) }

// ReadProps returns the property paths the state may only read.
func (a *Activation) ReadProps() []string { return append([]string(nil), a.state.Read...) }

// SecsToTicks converts seconds to ticks using the owning engine's rate.
func (a *Activation) SecsToTicks(seconds float64) int64 { return a.ctx.SecsToTicks(seconds) }

// Phase returns the current lifecycle phase.
func (a *Activation) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phaseLocked()
}

func (a *Activation) phaseLocked() Phase {
	if a.phase >= PhaseFiring {
		return a.phase
	}
	if a.constraint.Evaluate() {
		return PhaseSatisfied
	}
	for _, sig := range a.constraint.Signals() {
		if sig.Spike() != nil {
			return PhasePartiallyBound
		}
	}
	return PhasePending
}

func (a *Activation) live() bool { return a.phase < PhaseFiring }

// Constraint returns a description of the activation's constraint with its
// current bindings.
func (a *Activation) Constraint() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.constraint.String()
}

// Bindings returns the spikes currently bound to the activation.
func (a *Activation) Bindings() []constraint.Binding {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []constraint.Binding
	for _, c := range a.constraint.Conjunctions() {
		out = append(out, c.Bindings()...)
	}
	return out
}

// Parents returns the spikes consumed by the firing, once claimed.
func (a *Activation) Parents() []*spike.Spike {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*spike.Spike, len(a.parents))
	copy(out, a.parents)
	return out
}

// Acquire offers sp to the activation's constraint.
func (a *Activation) Acquire(sp *spike.Spike) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live() {
		return false
	}
	return a.constraint.Acquire(sp, a)
}

// NeedsSignal reports whether some leaf named signal is still unbound.
func (a *Activation) NeedsSignal(signal string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live() {
		return false
	}
	for _, sig := range a.constraint.Signals() {
		if sig.Name() == signal && sig.Spike() == nil {
			return true
		}
	}
	return false
}

// Update expires bindings past their max age and runs the pressure death
// clock. Expired leaves are re-registered with the engine.
func (a *Activation) Update() []*constraint.Signal {
	a.mu.Lock()
	if !a.live() {
		a.mu.Unlock()
		return nil
	}
	lost := a.constraint.Update(a)
	if len(lost) > 0 && len(a.pressured) > 0 {
		a.prunePressuredLocked()
	}

	var release []*spike.Spike
	if a.deathClock > 0 {
		a.deathClock--
		if a.deathClock == 0 && !a.constraint.Evaluate() {
			release = a.pressuredLocked()
		}
	}
	a.mu.Unlock()

	for _, sig := range lost {
		a.ctx.Reacquire(a, sig)
	}
	for _, sp := range release {
		a.log.Debug("pressure wait elapsed, releasing spike", "spike", sp.ID(), "signal", sp.Name())
		a.dereference(sp, true, true, spike.RejectPressured)
		a.ctx.Yielded(a, sp)
	}
	return lost
}

func (a *Activation) prunePressuredLocked() {
	held := make(map[*spike.Spike]struct{})
	for _, sig := range a.constraint.Signals() {
		if sp := sig.Spike(); sp != nil {
			held[sp] = struct{}{}
		}
	}
	for sp := range a.pressured {
		if _, ok := held[sp]; !ok {
			delete(a.pressured, sp)
		}
	}
	if len(a.pressured) == 0 {
		a.deathClock = 0
	}
}

func (a *Activation) pressuredLocked() []*spike.Spike {
	out := make([]*spike.Spike, 0, len(a.pressured))
	for sp := range a.pressured {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Ready reports whether the constraint is satisfied and the activation may
// try to fire.
func (a *Activation) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live() && a.constraint.Evaluate()
}

// Specificity is the lowest sum of inverse subscriber counts over the
// satisfied conjunctions, or over all conjunctions when none is satisfied.
// Rarer signals make an activation more specific.
func (a *Activation) Specificity() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	conjs := a.constraint.Conjunctions()
	var satisfied []*constraint.Conjunct
	for _, c := range conjs {
		if c.Evaluate() {
			satisfied = append(satisfied, c)
		}
	}
	if len(satisfied) > 0 {
		conjs = satisfied
	}

	best := math.Inf(1)
	for _, c := range conjs {
		sum := 0.0
		for _, sig := range c.Signals() {
			n := a.ctx.SubscriberCount(sig.Name())
			if n < 1 {
				n = 1
			}
			sum += 1 / float64(n)
		}
		best = math.Min(best, sum)
	}
	return best
}

// Dereference drops bindings to sp, or all bindings when sp is nil. With
// reacquire the dropped leaves listen again; with reject the spikes are
// refused for good.
func (a *Activation) Dereference(sp *spike.Spike, reacquire, reject bool) {
	a.dereference(sp, reacquire, reject, spike.RejectRemoved)
}

func (a *Activation) dereference(sp *spike.Spike, reacquire, reject bool, reason spike.RejectReason) {
	a.mu.Lock()
	bindings := a.constraint.Dereference(sp)
	if sp == nil {
		a.pressured = make(map[*spike.Spike]struct{})
		a.deathClock = 0
	} else {
		delete(a.pressured, sp)
		if len(a.pressured) == 0 {
			a.deathClock = 0
		}
	}
	live := a.live()
	a.mu.Unlock()

	for _, b := range bindings {
		g := b.Spike.CausalGroup()
		if reject {
			g.Rejected(b.Spike, a, reason)
		} else {
			g.Released(b.Spike, a)
		}
		if reacquire && live {
			a.ctx.Reacquire(a, b.Signal)
		}
	}
}

// Pressure is called when a less specific activation is ready to consume
// sp. The activation estimates how long it still needs to be satisfied. If
// that exceeds the time it can afford to hold sp, it releases sp at once;
// otherwise it starts a death clock and releases when the clock runs out.
func (a *Activation) Pressure(sp *spike.Spike) {
	a.mu.Lock()
	if !a.live() {
		a.mu.Unlock()
		return
	}

	conj := a.bestConjunctionLocked(sp)
	if conj == nil {
		a.mu.Unlock()
		return
	}

	bound := a.ctx.MaxPressureWait()
	var missing []string
	youngest := 0.0
	for _, sig := range conj.Signals() {
		bsp := sig.Spike()
		if bsp == nil {
			missing = append(missing, sig.Name())
			continue
		}
		if wait := float64(a.ctx.SecsToTicks(sig.MinAge()) - bsp.Age()); wait > youngest {
			youngest = wait
		}
		if bsp == sp && sig.MaxAge() >= 0 {
			if left := a.ctx.SecsToTicks(sig.MaxAge()) - bsp.Age(); left < bound {
				bound = left
			}
		}
	}

	eta := youngest
	if len(missing) > 0 {
		eta = math.Max(eta, a.ctx.EstimateETA(missing))
	}

	release := eta > float64(bound)
	if !release {
		a.pressured[sp] = struct{}{}
		clock := int64(math.Max(1, math.Ceil(eta)))
		if a.deathClock == 0 || clock < a.deathClock {
			a.deathClock = clock
		}
	}
	a.mu.Unlock()

	if release {
		a.log.Debug("released spike under pressure", "spike", sp.ID(), "signal", sp.Name(), "eta", eta, "bound", bound)
		a.dereference(sp, true, true, spike.RejectPressured)
		a.ctx.Yielded(a, sp)
		return
	}
	a.log.Debug("holding pressured spike", "spike", sp.ID(), "signal", sp.Name(), "eta", eta)
}

// bestConjunctionLocked returns the conjunction holding sp with the most
// bound leaves.
func (a *Activation) bestConjunctionLocked(sp *spike.Spike) *constraint.Conjunct {
	var best *constraint.Conjunct
	bestBound := -1
	for _, c := range a.constraint.Conjunctions() {
		holds := false
		for _, b := range c.Bindings() {
			if b.Spike == sp {
				holds = true
				break
			}
		}
		if holds && c.Bound() > bestBound {
			best, bestBound = c, c.Bound()
		}
	}
	return best
}

// Pressured reports whether the activation currently holds a spike under
// pressure.
func (a *Activation) Pressured() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pressured) > 0
}

// Claim asks every causal group of the satisfied conjunction for consent,
// consumes the activation's resources in them and moves the activation to
// PhaseFiring. Detached spikes are spent for the activation's resources
// instead, so one spike fires a state at most once. It returns false when
// the constraint is not satisfied, consent was refused or the activation was
// aborted meanwhile.
func (a *Activation) Claim() bool {
	a.mu.Lock()
	if !a.live() {
		a.mu.Unlock()
		return false
	}
	conj, ok := a.constraint.Satisfied()
	if !ok {
		a.mu.Unlock()
		return false
	}
	bindings := conj.Bindings()
	a.mu.Unlock()

	var groups []*spike.CausalGroup
	var detached []*spike.Spike
	seen := make(map[*spike.CausalGroup]struct{})
	for _, b := range bindings {
		if b.Signal.Detached() {
			detached = append(detached, b.Spike)
			continue
		}
		g := b.Spike.CausalGroup()
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID() < groups[j].ID() })

	for _, g := range groups {
		if !g.Consent(a) {
			return false
		}
	}

	a.mu.Lock()
	// RmState may have aborted the activation while consent was asked.
	if !a.live() {
		a.mu.Unlock()
		return false
	}
	a.phase = PhaseFiring
	a.parents = make([]*spike.Spike, 0, len(bindings))
	for _, b := range bindings {
		a.parents = append(a.parents, b.Spike)
	}
	own := a.constraint.Dereference(nil)
	a.pressured = make(map[*spike.Spike]struct{})
	a.deathClock = 0
	a.mu.Unlock()

	var claims []spike.Claim
	for _, g := range groups {
		claims = append(claims, g.Consumed(a.resources)...)
	}
	for _, sp := range detached {
		claims = append(claims, sp.CausalGroup().Spent(sp, a.resources)...)
	}

	for _, b := range own {
		b.Spike.CausalGroup().Released(b.Spike, a)
	}
	for _, c := range claims {
		if c.Activation == spike.Activation(a) {
			continue
		}
		c.Activation.Dereference(c.Spike, true, false)
	}
	return true
}

// Fire runs the state body with a least-privilege scope. A panicking body
// is recovered and reported as a *PanicError with a None result.
func (a *Activation) Fire(ctx context.Context, host Host) (res Result, err error) {
	ctx, span := tracer().Start(ctx, spanFire, trace.WithAttributes(
		attribute.String("spikeflow.state", a.state.Name),
		attribute.String("spikeflow.activation", a.id),
	))
	defer span.End()

	parents := a.Parents()
	write := a.resolve(host, a.state.Write)
	read := a.resolve(host, a.state.Read)
	emitter := property.EmitterFunc(func(sig *constraint.Signal, payload any, wipe bool) {
		host.EmitFrom(parents, sig, payload, wipe)
	})

	acc := property.NewAccessor(a.state.Name, write, read, emitter, a.log)
	defer acc.Release()

	scope := &Scope{Accessor: acc, state: a.state, host: host, parents: parents}

	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(a.state.Name, r)
			res = None()
			span.RecordError(err)
			span.SetStatus(codes.Error, "state body panicked")
		}
	}()

	res = a.state.Body(ctx, scope)
	span.SetAttributes(attribute.String("spikeflow.result", res.Kind.String()))
	return res, nil
}

func (a *Activation) resolve(host Host, paths []string) []*property.Property {
	out := make([]*property.Property, 0, len(paths))
	for _, path := range paths {
		p, ok := host.Property(path)
		if !ok {
			a.log.Error("state declares unknown property", "property", path)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Complete moves a firing activation to PhaseCompleted. It returns false
// when the activation was aborted while firing.
func (a *Activation) Complete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.phase != PhaseFiring {
		return false
	}
	a.phase = PhaseCompleted
	return true
}

// Abort rejects every bound spike and moves the activation to
// PhaseAborted. An activation that is already firing keeps running but
// ends aborted.
func (a *Activation) Abort() {
	a.mu.Lock()
	if a.phase.Terminal() {
		a.mu.Unlock()
		return
	}
	a.phase = PhaseAborted
	a.mu.Unlock()
	a.dereference(nil, false, true, spike.RejectRemoved)
}
