// Package board serves the HTTP inspection and control surface of a running
// engine: REST endpoints, a live websocket feed and the journal.
package board

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spikeflow/spikeflow/config"
	"github.com/spikeflow/spikeflow/pkg/board/handlers"
	"github.com/spikeflow/spikeflow/pkg/board/middleware"
	"github.com/spikeflow/spikeflow/pkg/logger"
)

// Handlers holds all HTTP handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	// Engine handles spike, activation and state endpoints
	Engine *handlers.EngineHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Journal serves the lifecycle journal
	Journal *handlers.JournalHandler

	// WebSocket streams engine events
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// Tracing enables HTTP server spans
	Tracing bool
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.BoardConfig, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Tracing {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.CORS))

	RegisterRoutes(r, cfg, h)
	return r
}

// RegisterRoutes registers all board routes. The websocket route sits
// outside the request timeout.
func RegisterRoutes(r chi.Router, cfg *config.BoardConfig, h *Handlers) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))

		r.Route("/api/v1", func(r chi.Router) {
			if h.Engine != nil {
				emitLimiter := middleware.NewLimiter(cfg.EmitRateLimit, cfg.EmitBurst)

				r.Get("/stats", h.Engine.Stats)
				r.Get("/activations", h.Engine.ListActivations)
				r.Route("/spikes", func(r chi.Router) {
					r.Get("/", h.Engine.ListSpikes)
					r.With(middleware.RateLimit(emitLimiter)).Post("/", h.Engine.Emit)
				})
				r.Route("/states", func(r chi.Router) {
					r.Get("/", h.Engine.ListStates)
					r.Get("/{name}", h.Engine.GetState)
					r.Delete("/{name}", h.Engine.RemoveState)
				})
			}
			if h.Journal != nil {
				r.Get("/journal", h.Journal.List)
			}
		})

		if h.Health != nil {
			r.Get("/health", h.Health.Health)
			r.Get("/ready", h.Health.Ready)
			r.Get("/status", h.Health.Status)
		}
	})

	if h.WebSocket != nil {
		r.Method(http.MethodGet, "/ws/events", h.WebSocket)
	}
}
