package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spikeflow/spikeflow/pkg/board/response"
	"github.com/spikeflow/spikeflow/pkg/engine"
	"github.com/spikeflow/spikeflow/pkg/journal"
	"github.com/spikeflow/spikeflow/pkg/journal/memory"
	"github.com/spikeflow/spikeflow/pkg/logger"
	"github.com/spikeflow/spikeflow/pkg/spike"
)

type emitCall struct {
	signal string
	opts   int
}

type fakeEngine struct {
	mu           sync.Mutex
	running      bool
	shuttingDown bool
	states       []engine.StateInfo
	spikes       []engine.SpikeInfo
	activations  []engine.ActivationInfo
	emits        []emitCall
	removed      []string
}

func (f *fakeEngine) Running() bool      { return f.running }
func (f *fakeEngine) ShuttingDown() bool { return f.shuttingDown }
func (f *fakeEngine) Stats() engine.Stats {
	return engine.Stats{Tick: 42, States: len(f.states), Spikes: len(f.spikes), ShuttingDown: f.shuttingDown}
}
func (f *fakeEngine) Spikes() []engine.SpikeInfo           { return append([]engine.SpikeInfo(nil), f.spikes...) }
func (f *fakeEngine) Activations() []engine.ActivationInfo { return f.activations }
func (f *fakeEngine) States() []engine.StateInfo           { return f.states }

func (f *fakeEngine) Emit(signal string, opts ...engine.EmitOption) (*spike.Spike, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shuttingDown {
		return nil, &engine.ShuttingDownError{Signal: signal}
	}
	f.emits = append(f.emits, emitCall{signal: signal, opts: len(opts)})
	return spike.New(signal, nil, nil), nil
}

func (f *fakeEngine) RmState(name string) error {
	for i, st := range f.states {
		if st.Name == name {
			f.states = append(f.states[:i], f.states[i+1:]...)
			f.removed = append(f.removed, name)
			return nil
		}
	}
	return &engine.UnknownStateError{Name: name}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		running: true,
		states: []engine.StateInfo{
			{Name: "counter", Signals: []string{"tick"}, Emits: "counted"},
			{Name: "printer", Signals: []string{"counted"}},
		},
		spikes: []engine.SpikeInfo{
			{ID: "s1", Signal: "tick", Age: 1},
			{ID: "s2", Signal: "counted", Age: 0},
		},
		activations: []engine.ActivationInfo{
			{ID: "a1", State: "counter", Phase: "waiting", Constraint: "tick"},
		},
	}
}

func engineRouter(eng Engine) http.Handler {
	h := NewEngineHandler(eng, logger.Nop())
	r := chi.NewRouter()
	r.Get("/api/v1/spikes", h.ListSpikes)
	r.Post("/api/v1/spikes", h.Emit)
	r.Get("/api/v1/activations", h.ListActivations)
	r.Get("/api/v1/states", h.ListStates)
	r.Get("/api/v1/states/{name}", h.GetState)
	r.Delete("/api/v1/states/{name}", h.RemoveState)
	r.Get("/api/v1/stats", h.Stats)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type listBody struct {
	Items json.RawMessage `json:"items"`
	Total int             `json:"total"`
}

func TestHealthHandler(t *testing.T) {
	eng := newFakeEngine()
	h := NewHealthHandler(eng)

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	eng.shuttingDown = true
	w = httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	h.Status(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		State   string            `json:"state"`
		Version map[string]string `json:"version"`
		Engine  engine.Stats      `json:"engine"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "shutting_down", status.State)
	assert.Equal(t, int64(42), status.Engine.Tick)
	assert.NotEmpty(t, status.Version["version"])
}

func TestEngineHandler_Lists(t *testing.T) {
	r := engineRouter(newFakeEngine())

	tests := []struct {
		path  string
		total int
	}{
		{"/api/v1/spikes", 2},
		{"/api/v1/spikes?signal=tick", 1},
		{"/api/v1/activations", 1},
		{"/api/v1/states", 2},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, r, http.MethodGet, tt.path, "")
			require.Equal(t, http.StatusOK, w.Code)
			var body listBody
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.total, body.Total)
		})
	}
}

func TestEngineHandler_GetState(t *testing.T) {
	r := engineRouter(newFakeEngine())

	w := do(t, r, http.MethodGet, "/api/v1/states/counter", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st engine.StateInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, "counted", st.Emits)

	w = do(t, r, http.MethodGet, "/api/v1/states/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEngineHandler_RemoveState(t *testing.T) {
	eng := newFakeEngine()
	r := engineRouter(eng)

	w := do(t, r, http.MethodDelete, "/api/v1/states/printer", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"printer"}, eng.removed)

	w = do(t, r, http.MethodDelete, "/api/v1/states/printer", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp response.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, response.ErrCodeNotFound, resp.Error.Code)
}

func TestEngineHandler_Stats(t *testing.T) {
	w := do(t, engineRouter(newFakeEngine()), http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats engine.Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, 2, stats.States)
}

func TestEngineHandler_Emit(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantOpts   int
	}{
		{"plain", `{"signal":"tick"}`, http.StatusAccepted, 0},
		{"payload and wipe", `{"signal":"tick","payload":{"n":1},"wipe":true}`, http.StatusAccepted, 2},
		{"null payload", `{"signal":"tick","payload":null}`, http.StatusAccepted, 0},
		{"missing signal", `{"payload":1}`, http.StatusBadRequest, 0},
		{"blank signal", `{"signal":"  "}`, http.StatusBadRequest, 0},
		{"unknown field", `{"signal":"tick","extra":1}`, http.StatusBadRequest, 0},
		{"malformed", `{"signal":`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			w := do(t, engineRouter(eng), http.MethodPost, "/api/v1/spikes", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus != http.StatusAccepted {
				assert.Empty(t, eng.emits)
				return
			}
			var resp EmitResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.ID)
			assert.NotEmpty(t, resp.Group)
			assert.Equal(t, "tick", resp.Signal)
			require.Len(t, eng.emits, 1)
			assert.Equal(t, tt.wantOpts, eng.emits[0].opts)
		})
	}
}

func TestEngineHandler_EmitWhileShuttingDown(t *testing.T) {
	eng := newFakeEngine()
	eng.shuttingDown = true

	w := do(t, engineRouter(eng), http.MethodPost, "/api/v1/spikes", `{"signal":"tick"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestJournalHandler_List(t *testing.T) {
	j := memory.New(100)
	ctx := context.Background()
	for _, e := range []*journal.Entry{
		{Kind: journal.KindSpikeEmitted, Subject: "s1", Name: "tick"},
		{Kind: journal.KindActivationFired, Subject: "a1", Name: "counter"},
		{Kind: journal.KindSpikeEmitted, Subject: "s2", Name: "tick"},
		{Kind: journal.KindActivationCompleted, Subject: "a1", Name: "counter"},
	} {
		require.NoError(t, j.Append(ctx, e))
	}

	h := NewJournalHandler(j)
	tests := []struct {
		query     string
		wantTotal int
		wantItems int
	}{
		{"", 4, 4},
		{"?kind=spike.emitted", 2, 2},
		{"?kind=activation.fired,activation.completed", 2, 2},
		{"?kind=activation.fired&kind=spike.emitted", 3, 3},
		{"?name=counter", 2, 2},
		{"?after_seq=2", 2, 2},
		{"?limit=1", 4, 1},
		{"?offset=3", 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(t, http.HandlerFunc(h.List), http.MethodGet, "/api/v1/journal"+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code)

			var body struct {
				Items []journal.Entry `json:"items"`
				Total int             `json:"total"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantTotal, body.Total)
			assert.Len(t, body.Items, tt.wantItems)
		})
	}
}

func TestJournalHandler_InvalidQuery(t *testing.T) {
	h := NewJournalHandler(nil)
	for _, q := range []string{"?limit=0", "?limit=abc", "?offset=-1", "?after_seq=-5"} {
		w := do(t, http.HandlerFunc(h.List), http.MethodGet, "/api/v1/journal"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestJournalHandler_LimitIsCapped(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal?limit=50000", nil)
	filter, details := parseJournalFilter(req)
	assert.Empty(t, details)
	assert.Equal(t, maxJournalLimit, filter.Limit)
}
