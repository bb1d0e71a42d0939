package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Firing lane collectors. A lane task is one state firing, so depth and wait
// time show how far state bodies lag behind the tick loop.
func (m *Manager) initLaneMetrics(cfg Config) {
	m.laneQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "lane",
		Name:      "queued_firings",
		Help:      "Firings dispatched to the lane and not yet picked up by a worker",
	}, []string{"lane"})

	m.laneWaitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lane",
		Name:      "firing_wait_seconds",
		Help:      "Time between dispatch of a firing and the start of its body",
		Buckets:   cfg.LaneWaitBuckets,
	}, []string{"lane"})

	m.laneThroughput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lane",
		Name:      "firings_total",
		Help:      "Firings run to completion by the lane",
	}, []string{"lane"})

	m.registry.MustRegister(m.laneQueueDepth, m.laneWaitDuration, m.laneThroughput)
}

// IncQueueDepth counts a firing entering lane's queue.
func (m *Manager) IncQueueDepth(lane string) {
	if m.enabled {
		m.laneQueueDepth.WithLabelValues(lane).Inc()
	}
}

// DecQueueDepth counts a firing leaving lane's queue.
func (m *Manager) DecQueueDepth(lane string) {
	if m.enabled {
		m.laneQueueDepth.WithLabelValues(lane).Dec()
	}
}

func (m *Manager) RecordWaitDuration(lane string, wait time.Duration) {
	if m.enabled {
		m.laneWaitDuration.WithLabelValues(lane).Observe(wait.Seconds())
	}
}

func (m *Manager) RecordThroughput(lane string) {
	if m.enabled {
		m.laneThroughput.WithLabelValues(lane).Inc()
	}
}
