// Package metrics provides Prometheus instrumentation for the spikeflow
// engine, its firing lane, the ingress sources and the board.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spikeflow"

// Manager owns the metrics registry.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Engine metrics
	ticks            prometheus.Counter
	tickDuration     prometheus.Histogram
	spikesEmitted    *prometheus.CounterVec
	spikesWiped      prometheus.Counter
	spikesLive       prometheus.Gauge
	activationsLive  prometheus.Gauge
	firings          *prometheus.CounterVec
	firingFailures   *prometheus.CounterVec
	firingDuration   *prometheus.HistogramVec
	pressureReleases prometheus.Counter
	consentRefusals  prometheus.Counter

	// Lane metrics
	laneQueueDepth   *prometheus.GaugeVec
	laneWaitDuration *prometheus.HistogramVec
	laneThroughput   *prometheus.CounterVec

	// Ingress metrics
	ingressReceived    *prometheus.CounterVec
	ingressDropped     *prometheus.CounterVec
	ingressRPCs        *prometheus.CounterVec
	ingressRPCDuration *prometheus.HistogramVec

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	TickDurationBuckets   []float64
	FiringDurationBuckets []float64
	LaneWaitBuckets       []float64
	HTTPDurationBuckets   []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		Port:                  9091,
		Path:                  "/metrics",
		TickDurationBuckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		FiringDurationBuckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		LaneWaitBuckets:       []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
		HTTPDurationBuckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a metrics manager with its own registry.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initEngineMetrics(cfg)
	m.initLaneMetrics(cfg)
	m.initIngressMetrics()
	m.initHTTPMetrics(cfg)

	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registry returns the underlying registry, nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer serves the metrics endpoint until ctx is done.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// NoOpManager returns a manager that records nothing.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
