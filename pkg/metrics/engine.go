package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initEngineMetrics(cfg Config) {
	m.ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Total number of engine ticks",
	})

	m.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Time spent in one engine tick",
		Buckets:   cfg.TickDurationBuckets,
	})

	m.spikesEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spikes_emitted_total",
		Help:      "Total number of spikes ingested by signal",
	}, []string{"signal"})

	m.spikesWiped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spikes_wiped_total",
		Help:      "Total number of spikes wiped",
	})

	m.spikesLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "spikes_live",
		Help:      "Current number of live spikes",
	})

	m.activationsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "activations_live",
		Help:      "Current number of activations waiting to fire",
	})

	m.firings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activation_firings_total",
		Help:      "Total number of state firings by state and result",
	}, []string{"state", "result"})

	m.firingFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activation_failures_total",
		Help:      "Total number of state bodies that panicked",
	}, []string{"state"})

	m.firingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "activation_duration_seconds",
		Help:      "State body run time",
		Buckets:   cfg.FiringDurationBuckets,
	}, []string{"state"})

	m.pressureReleases = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pressure_releases_total",
		Help:      "Total number of spikes released under pressure",
	})

	m.consentRefusals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consent_refusals_total",
		Help:      "Total number of ready activations refused by a causal group",
	})

	m.registry.MustRegister(
		m.ticks, m.tickDuration, m.spikesEmitted, m.spikesWiped, m.spikesLive,
		m.activationsLive, m.firings, m.firingFailures, m.firingDuration,
		m.pressureReleases, m.consentRefusals,
	)
}

// RecordTick records one tick and its duration.
func (m *Manager) RecordTick(duration time.Duration) {
	if !m.enabled {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(duration.Seconds())
}

// RecordSpikeEmitted counts an ingested spike.
func (m *Manager) RecordSpikeEmitted(signal string) {
	if !m.enabled {
		return
	}
	m.spikesEmitted.WithLabelValues(signal).Inc()
}

// RecordSpikeWiped counts a wiped spike.
func (m *Manager) RecordSpikeWiped() {
	if !m.enabled {
		return
	}
	m.spikesWiped.Inc()
}

// SetLive sets the live spike and activation gauges.
func (m *Manager) SetLive(spikes, activations int) {
	if !m.enabled {
		return
	}
	m.spikesLive.Set(float64(spikes))
	m.activationsLive.Set(float64(activations))
}

// RecordFiring records a finished state body. A trace id in ctx is attached
// as an exemplar.
func (m *Manager) RecordFiring(ctx context.Context, state, result string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.firings.WithLabelValues(state, result).Inc()
	observeWithExemplar(ctx, m.firingDuration.WithLabelValues(state), duration.Seconds())
}

// RecordFiringFailure counts a panicking state body.
func (m *Manager) RecordFiringFailure(state string) {
	if !m.enabled {
		return
	}
	m.firingFailures.WithLabelValues(state).Inc()
}

// RecordPressureRelease counts a spike given up under pressure.
func (m *Manager) RecordPressureRelease() {
	if !m.enabled {
		return
	}
	m.pressureReleases.Inc()
}

// RecordConsentRefused counts a refused firing attempt.
func (m *Manager) RecordConsentRefused() {
	if !m.enabled {
		return
	}
	m.consentRefusals.Inc()
}
