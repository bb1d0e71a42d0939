// Package ingress injects spikes into a running engine from outside the
// process: an in-process channel source and a Redis pub/sub source feed a
// rate-limited Gateway that calls Engine.Emit.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spikeflow/spikeflow/pkg/engine"
	"github.com/spikeflow/spikeflow/pkg/logger"
	"github.com/spikeflow/spikeflow/pkg/spike"
)

// Drop reasons reported to the metrics recorder.
const (
	DropRateLimited  = "rate_limited"
	DropInvalid      = "invalid"
	DropDecode       = "decode_failed"
	DropShuttingDown = "shutting_down"
	DropEmitFailed   = "emit_failed"
	DropBufferFull   = "buffer_full"
)

// ErrClosed is returned by sources that have been closed.
var ErrClosed = errors.New("ingress source is closed")

// Message is the wire form of a remote spike.
type Message struct {
	Signal  string          `json:"signal"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Wipe    bool            `json:"wipe,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// Validate checks that the message names a signal.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if strings.TrimSpace(m.Signal) == "" {
		return fmt.Errorf("message signal cannot be empty")
	}
	return nil
}

// Emitter is the engine entry point used by the gateway.
type Emitter interface {
	Emit(signal string, opts ...engine.EmitOption) (*spike.Spike, error)
}

// MetricsRecorder defines metrics hooks for ingress.
type MetricsRecorder interface {
	RecordIngressReceived(source string)
	RecordIngressDropped(source, reason string)
}

type nopMetrics struct{}

func (nopMetrics) RecordIngressReceived(string)         {}
func (nopMetrics) RecordIngressDropped(string, string) {}

// DeliverFunc hands a decoded message from a source to the gateway.
type DeliverFunc func(ctx context.Context, source string, msg *Message) error

// Source produces messages until ctx ends or it is closed.
type Source interface {
	Name() string
	Run(ctx context.Context, deliver DeliverFunc) error
	Close() error
}

// Config configures a Gateway.
type Config struct {
	// RateLimit is the number of spikes per second accepted across all
	// sources. Zero means unlimited.
	RateLimit float64
	Burst     int
}

// Gateway validates, rate limits and emits messages from its sources.
type Gateway struct {
	emitter Emitter
	limiter *rate.Limiter
	metrics MetricsRecorder
	log     logger.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// NewGateway creates a gateway emitting into emitter.
func NewGateway(emitter Emitter, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		emitter: emitter,
		metrics: nopMetrics{},
		log:     logger.Nop(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Deliver emits msg. Dropped messages are counted and logged; only an
// engine that is shutting down is reported back as an error so that
// sources can stop.
func (g *Gateway) Deliver(ctx context.Context, source string, msg *Message) error {
	g.metrics.RecordIngressReceived(source)

	if err := msg.Validate(); err != nil {
		g.drop(ctx, source, DropInvalid, err)
		return nil
	}
	if g.limiter != nil && !g.limiter.Allow() {
		g.drop(ctx, source, DropRateLimited, nil)
		return nil
	}

	var opts []engine.EmitOption
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		var payload any
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			g.drop(ctx, source, DropDecode, err)
			return nil
		}
		opts = append(opts, engine.WithPayload(payload))
	}
	if msg.Wipe {
		opts = append(opts, engine.WithWipe())
	}

	sp, err := g.emitter.Emit(strings.TrimSpace(msg.Signal), opts...)
	if err != nil {
		if engine.IsShuttingDownError(err) {
			g.drop(ctx, source, DropShuttingDown, err)
			return err
		}
		g.drop(ctx, source, DropEmitFailed, err)
		return nil
	}
	g.log.DebugContext(ctx, "spike ingested", "source", source, "signal", sp.Name(), "spike_id", sp.ID())
	return nil
}

func (g *Gateway) drop(ctx context.Context, source, reason string, err error) {
	g.metrics.RecordIngressDropped(source, reason)
	args := []any{"source", source, "reason", reason}
	if err != nil {
		args = append(args, "error", err)
	}
	g.log.WarnContext(ctx, "ingress message dropped", args...)
}

// Run runs every source until ctx ends, the engine shuts down or a source
// fails. Sources are closed on return.
func (g *Gateway) Run(ctx context.Context, sources ...Source) error {
	grp, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		grp.Go(func() error {
			defer src.Close()
			g.log.Info("ingress source started", "source", src.Name())
			err := src.Run(gctx, g.Deliver)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				return fmt.Errorf("ingress source %s: %w", src.Name(), err)
			}
			return nil
		})
	}
	err := grp.Wait()
	if engine.IsShuttingDownError(err) {
		return nil
	}
	return err
}
