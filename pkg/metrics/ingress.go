package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initIngressMetrics() {
	m.ingressReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingress_received_total",
		Help:      "Total number of external events turned into spikes",
	}, []string{"source"})

	m.ingressDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingress_dropped_total",
		Help:      "Total number of external events dropped",
	}, []string{"source", "reason"})

	m.ingressRPCs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingress_grpc_requests_total",
		Help:      "Total number of gRPC ingress requests by method and status code",
	}, []string{"method", "code"})

	m.ingressRPCDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingress_grpc_request_duration_seconds",
		Help:      "Duration of gRPC ingress requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	m.registry.MustRegister(m.ingressReceived, m.ingressDropped, m.ingressRPCs, m.ingressRPCDuration)
}

// RecordIngressReceived counts an accepted external event.
func (m *Manager) RecordIngressReceived(source string) {
	if !m.enabled {
		return
	}
	m.ingressReceived.WithLabelValues(source).Inc()
}

// RecordIngressDropped counts a dropped external event.
func (m *Manager) RecordIngressDropped(source, reason string) {
	if !m.enabled {
		return
	}
	m.ingressDropped.WithLabelValues(source, reason).Inc()
}

// RecordIngressRPC counts a gRPC ingress request and observes its latency.
func (m *Manager) RecordIngressRPC(method, code string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.ingressRPCs.WithLabelValues(method, code).Inc()
	m.ingressRPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}
