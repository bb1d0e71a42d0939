package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/spikeflow/spikeflow/pkg/board/middleware"
	"github.com/spikeflow/spikeflow/pkg/board/response"
	"github.com/spikeflow/spikeflow/pkg/engine"
	"github.com/spikeflow/spikeflow/pkg/logger"
	"github.com/spikeflow/spikeflow/pkg/spike"
)

const maxEmitBodyBytes = 1 << 20

// Engine is the engine surface the board exposes.
type Engine interface {
	Probe
	Spikes() []engine.SpikeInfo
	Activations() []engine.ActivationInfo
	States() []engine.StateInfo
	Emit(signal string, opts ...engine.EmitOption) (*spike.Spike, error)
	RmState(name string) error
}

// EmitRequest is the body of POST /api/v1/spikes.
type EmitRequest struct {
	Signal  string          `json:"signal"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Wipe    bool            `json:"wipe,omitempty"`
}

// EmitResponse acknowledges a queued spike.
type EmitResponse struct {
	ID     string `json:"id"`
	Signal string `json:"signal"`
	Group  string `json:"group"`
}

// EngineHandler serves the engine inspection and control endpoints.
type EngineHandler struct {
	engine Engine
	log    logger.Logger
}

// NewEngineHandler creates an engine handler.
func NewEngineHandler(eng Engine, log logger.Logger) *EngineHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EngineHandler{engine: eng, log: log}
}

// ListSpikes handles GET /api/v1/spikes.
func (h *EngineHandler) ListSpikes(w http.ResponseWriter, r *http.Request) {
	items := h.engine.Spikes()
	if signal := strings.TrimSpace(r.URL.Query().Get("signal")); signal != "" {
		filtered := items[:0]
		for _, sp := range items {
			if sp.Signal == signal {
				filtered = append(filtered, sp)
			}
		}
		items = filtered
	}
	response.JSON(w, http.StatusOK, response.List{Items: items, Total: len(items)})
}

// ListActivations handles GET /api/v1/activations.
func (h *EngineHandler) ListActivations(w http.ResponseWriter, r *http.Request) {
	items := h.engine.Activations()
	response.JSON(w, http.StatusOK, response.List{Items: items, Total: len(items)})
}

// ListStates handles GET /api/v1/states.
func (h *EngineHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	items := h.engine.States()
	response.JSON(w, http.StatusOK, response.List{Items: items, Total: len(items)})
}

// GetState handles GET /api/v1/states/{name}.
func (h *EngineHandler) GetState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, st := range h.engine.States() {
		if st.Name == name {
			response.JSON(w, http.StatusOK, st)
			return
		}
	}
	response.HandleError(w, &engine.UnknownStateError{Name: name}, middleware.GetRequestID(r.Context()))
}

// RemoveState handles DELETE /api/v1/states/{name}.
func (h *EngineHandler) RemoveState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.engine.RmState(name); err != nil {
		response.HandleError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	h.log.InfoContext(r.Context(), "state removed via board", "state", name)
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/stats.
func (h *EngineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.engine.Stats())
}

// Emit handles POST /api/v1/spikes. The spike is queued for the next tick,
// so the answer is 202.
func (h *EngineHandler) Emit(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req EmitRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEmitBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body: "+err.Error(), requestID)
		return
	}
	req.Signal = strings.TrimSpace(req.Signal)
	if req.Signal == "" {
		response.ErrorWithDetails(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
			"validation failed", map[string]interface{}{"signal": "is required"}, requestID)
		return
	}

	var opts []engine.EmitOption
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		var payload any
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid payload", requestID)
			return
		}
		opts = append(opts, engine.WithPayload(payload))
	}
	if req.Wipe {
		opts = append(opts, engine.WithWipe())
	}

	sp, err := h.engine.Emit(req.Signal, opts...)
	if err != nil {
		var sd *engine.ShuttingDownError
		if errors.As(err, &sd) {
			response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, err.Error(), requestID)
			return
		}
		response.HandleError(w, err, requestID)
		return
	}

	h.log.DebugContext(r.Context(), "spike emitted via board", "signal", req.Signal, "spike_id", sp.ID())
	response.JSON(w, http.StatusAccepted, EmitResponse{
		ID:     sp.ID(),
		Signal: sp.Name(),
		Group:  sp.CausalGroup().ID(),
	})
}
