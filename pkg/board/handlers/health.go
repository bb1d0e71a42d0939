// Package handlers provides the board's HTTP request handlers.
package handlers

import (
	"net/http"

	"github.com/spikeflow/spikeflow/pkg/board/response"
	"github.com/spikeflow/spikeflow/pkg/engine"
	"github.com/spikeflow/spikeflow/pkg/version"
)

// Probe is the slice of the engine the health endpoints look at.
type Probe interface {
	Running() bool
	ShuttingDown() bool
	Stats() engine.Stats
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	engine Probe
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(eng Probe) *HealthHandler {
	return &HealthHandler{engine: eng}
}

// Health handles the /health endpoint (liveness probe). The process is
// alive as long as it can answer.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). The board is ready
// while the tick loop runs and no shutdown has begun.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine.Running() && !h.engine.ShuttingDown() {
		response.JSON(w, http.StatusOK, map[string]bool{
			"ready": true,
		})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
		"ready": false,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	state := "stopped"
	switch {
	case h.engine.ShuttingDown():
		state = "shutting_down"
	case h.engine.Running():
		state = "running"
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"state":   state,
		"version": version.Info(),
		"engine":  h.engine.Stats(),
	})
}
