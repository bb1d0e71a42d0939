package engine

import (
	"github.com/spikeflow/spikeflow/pkg/journal"
	"github.com/spikeflow/spikeflow/pkg/lane"
	"github.com/spikeflow/spikeflow/pkg/logger"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithMetrics sets the metrics recorder for the engine. When the recorder
// also implements lane.MetricsRecorder the default lane reports to it.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithJournal sets the journal that records spike and activation lifecycle.
func WithJournal(j journal.Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

// WithEventBroadcaster sets an event broadcaster for lifecycle changes.
func WithEventBroadcaster(broadcaster EventBroadcaster) Option {
	return func(e *Engine) {
		if broadcaster != nil {
			e.events = broadcaster
		}
	}
}

// WithLane runs state bodies on l instead of a lane owned by the engine.
// The caller closes l.
func WithLane(l lane.Lane) Option {
	return func(e *Engine) {
		if l != nil {
			e.lane = l
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}
