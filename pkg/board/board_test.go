package board

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spikeflow/spikeflow/config"
	"github.com/spikeflow/spikeflow/pkg/activation"
	"github.com/spikeflow/spikeflow/pkg/board/handlers"
	"github.com/spikeflow/spikeflow/pkg/constraint"
	"github.com/spikeflow/spikeflow/pkg/engine"
	"github.com/spikeflow/spikeflow/pkg/events"
	"github.com/spikeflow/spikeflow/pkg/journal"
	"github.com/spikeflow/spikeflow/pkg/journal/memory"
	"github.com/spikeflow/spikeflow/pkg/logger"
	"github.com/spikeflow/spikeflow/pkg/metrics"
)

type fixture struct {
	engine   *engine.Engine
	journal  *memory.Journal
	events   *events.Broadcaster
	handlers *Handlers
	config   *config.BoardConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	j := memory.New(1000)
	b := events.NewBroadcaster()
	cfg := engine.DefaultConfig()
	cfg.TickDuration = 10 * time.Millisecond

	eng, err := engine.New(cfg,
		engine.WithLogger(logger.Nop()),
		engine.WithJournal(j),
		engine.WithEventBroadcaster(b),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Close(ctx)
		b.Close()
	})

	st, err := activation.NewState("echo",
		func(context.Context, *activation.Scope) activation.Result { return activation.None() },
		activation.When(constraint.S("ping")),
	)
	require.NoError(t, err)
	require.NoError(t, eng.AddState(st))

	boardCfg := config.DefaultConfig().Board
	boardCfg.Host = "127.0.0.1"
	boardCfg.Port = 0

	return &fixture{
		engine:  eng,
		journal: j,
		events:  b,
		config:  &boardCfg,
		handlers: &Handlers{
			Engine:    handlers.NewEngineHandler(eng, logger.Nop()),
			Health:    handlers.NewHealthHandler(eng),
			Journal:   handlers.NewJournalHandler(j),
			WebSocket: handlers.NewWebSocketHandler(logger.Nop(), handlers.WebSocketConfig{}),
			Metrics:   metrics.NewManager(metrics.DefaultConfig()),
		},
	}
}

func request(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Routes(t *testing.T) {
	f := newFixture(t)
	r := NewRouter(f.config, logger.Nop(), f.handlers)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusServiceUnavailable},
		{http.MethodGet, "/status", http.StatusOK},
		{http.MethodGet, "/api/v1/stats", http.StatusOK},
		{http.MethodGet, "/api/v1/states", http.StatusOK},
		{http.MethodGet, "/api/v1/states/echo", http.StatusOK},
		{http.MethodGet, "/api/v1/states/missing", http.StatusNotFound},
		{http.MethodGet, "/api/v1/spikes", http.StatusOK},
		{http.MethodGet, "/api/v1/activations", http.StatusOK},
		{http.MethodGet, "/api/v1/journal", http.StatusOK},
		{http.MethodGet, "/ws/events", http.StatusBadRequest},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := request(t, r, tt.method, tt.path, "")
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouter_NilHandlersLeaveRoutesOut(t *testing.T) {
	r := NewRouter(&config.DefaultConfig().Board, logger.Nop(), &Handlers{})
	assert.Equal(t, http.StatusNotFound, request(t, r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusNotFound, request(t, r, http.MethodGet, "/api/v1/states", "").Code)
}

func TestRouter_EmitReachesJournal(t *testing.T) {
	f := newFixture(t)
	r := NewRouter(f.config, logger.Nop(), f.handlers)

	w := request(t, r, http.MethodPost, "/api/v1/spikes", `{"signal":"ping","payload":{"n":1}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var emitted handlers.EmitResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&emitted))

	require.NoError(t, f.engine.Tick(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Wait(ctx))

	w = request(t, r, http.MethodGet, "/api/v1/journal?kind=spike.emitted&name=ping", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries struct {
		Items []journal.Entry `json:"items"`
		Total int             `json:"total"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entries))
	require.Equal(t, 1, entries.Total)
	assert.Equal(t, emitted.ID, entries.Items[0].Subject)
}

func TestRouter_RemoveState(t *testing.T) {
	f := newFixture(t)
	r := NewRouter(f.config, logger.Nop(), f.handlers)

	assert.Equal(t, http.StatusNoContent, request(t, r, http.MethodDelete, "/api/v1/states/echo", "").Code)
	assert.False(t, f.engine.HasState("echo"))
	assert.Equal(t, http.StatusNotFound, request(t, r, http.MethodDelete, "/api/v1/states/echo", "").Code)
}

func TestRouter_EmitRateLimited(t *testing.T) {
	f := newFixture(t)
	f.config.EmitRateLimit = 0.001
	f.config.EmitBurst = 1
	r := NewRouter(f.config, logger.Nop(), f.handlers)

	assert.Equal(t, http.StatusAccepted, request(t, r, http.MethodPost, "/api/v1/spikes", `{"signal":"ping"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, request(t, r, http.MethodPost, "/api/v1/spikes", `{"signal":"ping"}`).Code)
	// Reads are not limited.
	assert.Equal(t, http.StatusOK, request(t, r, http.MethodGet, "/api/v1/spikes", "").Code)
}

func TestRouter_EmitAfterShutdown(t *testing.T) {
	f := newFixture(t)
	r := NewRouter(f.config, logger.Nop(), f.handlers)

	f.engine.Shutdown()
	assert.Equal(t, http.StatusServiceUnavailable, request(t, r, http.MethodPost, "/api/v1/spikes", `{"signal":"ping"}`).Code)
}

func TestHTTPServer_StartAndShutdown(t *testing.T) {
	f := newFixture(t)
	srv := NewHTTPServer(f.config, logger.Nop(), f.handlers)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.StartWithEvents(f.events) }()

	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	base := "http://" + srv.Addr()
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws/events?topic=spike.", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return f.handlers.WebSocket.Count() == 1 && f.events.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.engine.Emit("ping")
	require.NoError(t, err)
	require.NoError(t, f.engine.Tick(context.Background()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeSpikeEmitted, ev.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-errCh)
}

func TestHTTPServer_ListenError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := config.DefaultConfig().Board
	cfg.Host = "127.0.0.1"
	cfg.Port = taken.Addr().(*net.TCPAddr).Port
	srv := NewHTTPServer(&cfg, logger.Nop(), &Handlers{})
	assert.Error(t, srv.Start())
}
