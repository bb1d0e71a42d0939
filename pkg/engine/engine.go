// Package engine runs the tick loop that ages spikes, offers them to
// activations, arbitrates between contenders and dispatches firings.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spikeflow/spikeflow/pkg/activation"
	"github.com/spikeflow/spikeflow/pkg/constraint"
	"github.com/spikeflow/spikeflow/pkg/journal"
	"github.com/spikeflow/spikeflow/pkg/lane"
	"github.com/spikeflow/spikeflow/pkg/logger"
	"github.com/spikeflow/spikeflow/pkg/property"
	"github.com/spikeflow/spikeflow/pkg/spike"
)

const defaultLaneName = "firing"

// Config holds the tuning knobs of the engine.
type Config struct {
	// TickDuration is the wall-clock length of one tick.
	TickDuration time.Duration
	// MaxPressureWait bounds how long a pressured activation may keep a
	// contested spike.
	MaxPressureWait time.Duration
	// ProducerETA is the assumed delay until a signal that some state emits
	// but that was never seen shows up.
	ProducerETA time.Duration
	// AcquireParallelism limits the goroutines offering spikes per tick.
	AcquireParallelism int
	// ShutdownTimeout bounds the wait for in-flight firings on shutdown.
	ShutdownTimeout time.Duration
	// Lane configures the worker lane that runs state bodies.
	Lane lane.Config
	// Modules holds per-module configuration overriding module defaults.
	Modules map[string]map[string]any
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		TickDuration:       100 * time.Millisecond,
		MaxPressureWait:    time.Second,
		ProducerETA:        500 * time.Millisecond,
		AcquireParallelism: 8,
		ShutdownTimeout:    5 * time.Second,
		Lane: lane.Config{
			Name:           defaultLaneName,
			Capacity:       256,
			MaxConcurrency: 16,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TickDuration <= 0 {
		return fmt.Errorf("tick duration must be positive")
	}
	if c.MaxPressureWait < 0 {
		return fmt.Errorf("max pressure wait cannot be negative")
	}
	if c.ProducerETA < 0 {
		return fmt.Errorf("producer eta cannot be negative")
	}
	if c.AcquireParallelism <= 0 {
		return fmt.Errorf("acquire parallelism must be positive")
	}
	return nil
}

var (
	_ activation.Context = (*Engine)(nil)
	_ activation.Host    = (*Engine)(nil)
	_ activation.Host    = (*firingHost)(nil)
)

type stateEntry struct {
	state  *activation.State
	armed  *activation.Activation
	firing map[*activation.Activation]struct{}
}

type actSet map[*activation.Activation]struct{}

// Engine owns the registered states, their live activations and every live
// spike. It implements activation.Context and activation.Host.
type Engine struct {
	config  Config
	log     logger.Logger
	metrics MetricsRecorder
	journal journal.Journal
	events  EventBroadcaster
	lane    lane.Lane
	ownLane bool

	mu          sync.RWMutex
	states      map[string]*stateEntry
	live        map[*activation.Activation]*stateEntry
	subscribers map[string]actSet
	needy       map[string]actSet
	props       map[string]*property.Property
	modules     map[string]*Module
	producers   map[string]int

	spikeMu sync.Mutex
	spikes  []*spike.Spike
	pending []pendingSpike
	held    map[*spike.Spike]int

	tickMu   sync.Mutex
	tick     atomic.Int64
	arrivals *arrivals

	running      atomic.Bool
	shuttingDown atomic.Bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	inflight     sync.WaitGroup
}

// New creates an engine. Without WithLane a lane is built from cfg.Lane and
// closed by Close.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		config:      cfg,
		log:         logger.Global(),
		metrics:     nopMetrics{},
		journal:     journal.Nop{},
		events:      nopEvents{},
		states:      make(map[string]*stateEntry),
		live:        make(map[*activation.Activation]*stateEntry),
		subscribers: make(map[string]actSet),
		needy:       make(map[string]actSet),
		props:       make(map[string]*property.Property),
		modules:     make(map[string]*Module),
		producers:   make(map[string]int),
		held:        make(map[*spike.Spike]int),
		arrivals:    newArrivals(),
		shutdownCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine")

	if e.lane == nil {
		laneCfg := cfg.Lane
		if laneCfg.Name == "" {
			laneCfg.Name = defaultLaneName
		}
		var laneOpts []lane.LaneOption
		laneOpts = append(laneOpts, lane.WithLogger(e.log))
		if lm, ok := e.metrics.(lane.MetricsRecorder); ok {
			laneOpts = append(laneOpts, lane.WithMetrics(lm))
		}
		l, err := lane.New(&laneCfg, laneOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create firing lane: %w", err)
		}
		e.lane = l
		e.ownLane = true
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// CurrentTick returns the number of ticks run so far.
func (e *Engine) CurrentTick() int64 { return e.tick.Load() }

// SecsToTicks converts seconds to whole ticks, rounding up. Negative input
// stays negative to keep "unbounded" ages intact.
func (e *Engine) SecsToTicks(seconds float64) int64 {
	if seconds < 0 {
		return -1
	}
	q := math.Ceil(seconds / e.config.TickDuration.Seconds())
	// float64(MaxInt64) rounds up to 2^63, which int64 cannot hold
	if q >= float64(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(q)
}

// MaxPressureWait returns the pressure bound in ticks.
func (e *Engine) MaxPressureWait() int64 {
	return e.SecsToTicks(e.config.MaxPressureWait.Seconds())
}

// SubscriberCount returns how many live activations listen to signal.
func (e *Engine) SubscriberCount(signal string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[signal])
}

// EstimateETA returns the expected ticks until every named signal has been
// seen again, or +Inf when one of them has neither history nor producer.
func (e *Engine) EstimateETA(signals []string) float64 {
	producerETA := float64(e.SecsToTicks(e.config.ProducerETA.Seconds()))
	now := e.tick.Load()

	e.mu.RLock()
	produced := make([]bool, len(signals))
	for i, name := range signals {
		produced[i] = e.producers[name] > 0
	}
	e.mu.RUnlock()

	eta := 0.0
	for i, name := range signals {
		v, ok := e.arrivals.eta(name, now)
		if !ok {
			if !produced[i] {
				return math.Inf(1)
			}
			v = producerETA
		}
		eta = math.Max(eta, v)
	}
	return eta
}

// Reacquire puts act back on the list of activations offered spikes of
// sig's name.
func (e *Engine) Reacquire(act *activation.Activation, sig *constraint.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.live[act]; !ok {
		return
	}
	addAct(e.needy, sig.Name(), act)
}

// Yielded records that act released sp under pressure.
func (e *Engine) Yielded(act *activation.Activation, sp *spike.Spike) {
	e.metrics.RecordPressureRelease()
	e.log.Debug("activation yielded spike", "state", act.State().Name, "spike", sp.ID(), "signal", sp.Name())
}

// Shutdown asks the engine to stop. A ShutdownSignal spike is queued so
// that states can react before the loop exits.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.shuttingDown.Store(true)
		e.enqueue(spike.New(activation.ShutdownSignal, nil, nil), false)
		close(e.shutdownCh)
		e.log.Info("shutdown requested")
	})
}

// ShuttingDown reports whether Shutdown was called.
func (e *Engine) ShuttingDown() bool { return e.shuttingDown.Load() }

// Done is closed once Shutdown has been called.
func (e *Engine) Done() <-chan struct{} { return e.shutdownCh }

// Wait blocks until every dispatched firing has finished or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for in-flight firings and releases the lane and journal.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for firings: %w", err))
	}
	if e.ownLane {
		if err := e.lane.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing lane: %w", err))
		}
	}
	if err := e.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing journal: %w", err))
	}
	return errors.Join(errs...)
}

func addAct(m map[string]actSet, name string, act *activation.Activation) {
	set, ok := m[name]
	if !ok {
		set = make(actSet)
		m[name] = set
	}
	set[act] = struct{}{}
}

func removeAct(m map[string]actSet, name string, act *activation.Activation) {
	set, ok := m[name]
	if !ok {
		return
	}
	delete(set, act)
	if len(set) == 0 {
		delete(m, name)
	}
}
