package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/spikeflow/spikeflow/config"
	"github.com/spikeflow/spikeflow/pkg/board/response"
	"github.com/spikeflow/spikeflow/pkg/logger"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorResponse {
	t.Helper()
	var resp response.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name           string
		config         *config.CORSConfig
		method         string
		origin         string
		preflight      bool
		wantStatus     int
		wantCORSHeader bool
	}{
		{
			name: "allowed origin",
			config: &config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:3000"},
				AllowedMethods: []string{"GET", "POST"},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         3600,
			},
			method:         http.MethodGet,
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusOK,
			wantCORSHeader: true,
		},
		{
			name: "wildcard origin",
			config: &config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
			},
			method:         http.MethodGet,
			origin:         "http://example.com",
			wantStatus:     http.StatusOK,
			wantCORSHeader: true,
		},
		{
			name: "origin not allowed",
			config: &config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:3000"},
			},
			method:         http.MethodGet,
			origin:         "http://evil.example",
			wantStatus:     http.StatusOK,
			wantCORSHeader: false,
		},
		{
			name:           "disabled",
			config:         &config.CORSConfig{Enabled: false},
			method:         http.MethodGet,
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusOK,
			wantCORSHeader: false,
		},
		{
			name: "preflight",
			config: &config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"POST"},
			},
			method:         http.MethodOptions,
			origin:         "http://localhost:3000",
			preflight:      true,
			wantStatus:     http.StatusNoContent,
			wantCORSHeader: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.config)(http.HandlerFunc(okHandler))

			req := httptest.NewRequest(tt.method, "/api/v1/states", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			got := w.Header().Get("Access-Control-Allow-Origin") != ""
			if got != tt.wantCORSHeader {
				t.Errorf("Access-Control-Allow-Origin present = %v, want %v", got, tt.wantCORSHeader)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	t.Run("generates id", func(t *testing.T) {
		var captured string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetRequestID(r.Context())
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if captured == "" {
			t.Fatal("request id not set in context")
		}
		if w.Header().Get(RequestIDHeader) != captured {
			t.Errorf("header id %q does not match context id %q", w.Header().Get(RequestIDHeader), captured)
		}
	})

	t.Run("keeps inbound id", func(t *testing.T) {
		var captured string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetRequestID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "existing-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if captured != "existing-123" {
			t.Errorf("request id = %q, want existing-123", captured)
		}
	})

	t.Run("empty context", func(t *testing.T) {
		if got := GetRequestID(context.Background()); got != "" {
			t.Errorf("expected empty id, got %q", got)
		}
	})
}

func TestLogger(t *testing.T) {
	handler := Logger(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/spikes", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if w.Body.String() != `{"id":"1"}` {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestStatusWriter_HijackUnsupported(t *testing.T) {
	sw := newStatusWriter(httptest.NewRecorder())
	if _, _, err := sw.Hijack(); err == nil {
		t.Error("expected hijack error on a recorder")
	}
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{"no panic", okHandler, http.StatusOK},
		{"panic with string", func(http.ResponseWriter, *http.Request) { panic("boom") }, http.StatusInternalServerError},
		{"panic with error", func(http.ResponseWriter, *http.Request) { panic(response.ErrConflict) }, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequestID()(Recovery(logger.Nop())(tt.handler))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusInternalServerError {
				resp := decodeError(t, w)
				if resp.Error.Code != response.ErrCodeInternalServer {
					t.Errorf("code = %s, want %s", resp.Error.Code, response.ErrCodeInternalServer)
				}
				if resp.Error.RequestID == "" {
					t.Error("expected request id in error response")
				}
			}
		})
	}
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	handler := Recovery(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", r)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestTimeout(t *testing.T) {
	tests := []struct {
		name         string
		timeout      time.Duration
		handlerDelay time.Duration
		wantStatus   int
	}{
		{"completes in time", 200 * time.Millisecond, 5 * time.Millisecond, http.StatusOK},
		{"times out", 30 * time.Millisecond, 300 * time.Millisecond, http.StatusGatewayTimeout},
		{"disabled", 0, 5 * time.Millisecond, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Timeout(tt.timeout)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(tt.handlerDelay):
				case <-r.Context().Done():
					return
				}
				w.Header().Set("X-Handler", "yes")
				okHandler(w, r)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusGatewayTimeout {
				if resp := decodeError(t, w); resp.Error.Code != response.ErrCodeGatewayTimeout {
					t.Errorf("code = %s, want %s", resp.Error.Code, response.ErrCodeGatewayTimeout)
				}
				return
			}
			if w.Header().Get("X-Handler") != "yes" {
				t.Error("expected handler headers to be copied")
			}
			if w.Body.String() != "ok" {
				t.Errorf("body = %q, want ok", w.Body.String())
			}
		})
	}
}

func TestTimeout_PropagatesPanic(t *testing.T) {
	handler := Recovery(logger.Nop())(Timeout(time.Second)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("inside timeout")
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(NewLimiter(1, 2))(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/spikes", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			if w.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
			if resp := decodeError(t, w); resp.Error.Code != response.ErrCodeRateLimited {
				t.Errorf("code = %s, want %s", resp.Error.Code, response.ErrCodeRateLimited)
			}
		}
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}

func TestRateLimit_Unlimited(t *testing.T) {
	if NewLimiter(0, 10) != nil {
		t.Fatal("expected nil limiter for zero rate")
	}
	handler := RateLimit(nil)(http.HandlerFunc(okHandler))
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
}

type recordedRequest struct {
	method, path, status string
	traced               bool
}

type mockMetricsRecorder struct {
	mu          sync.Mutex
	requests    []recordedRequest
	activeConns int
}

func (m *mockMetricsRecorder) RecordHTTPRequest(ctx context.Context, method, path, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{
		method: method,
		path:   path,
		status: status,
		traced: trace.SpanContextFromContext(ctx).IsValid(),
	})
}

func (m *mockMetricsRecorder) IncActiveConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeConns++
}

func (m *mockMetricsRecorder) DecActiveConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeConns--
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	mock := &mockMetricsRecorder{}

	r := chi.NewRouter()
	r.Use(Metrics(mock))
	r.Delete("/api/v1/states/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/states/counter", nil))

	if len(mock.requests) != 1 {
		t.Fatalf("expected 1 recorded request, got %d", len(mock.requests))
	}
	got := mock.requests[0]
	if got.path != "/api/v1/states/{name}" || got.status != "204" || got.method != http.MethodDelete {
		t.Errorf("unexpected record %+v", got)
	}
	if mock.activeConns != 0 {
		t.Errorf("active connections = %d, want 0", mock.activeConns)
	}
}

func TestMetrics_SkipsMetricsEndpoint(t *testing.T) {
	mock := &mockMetricsRecorder{}
	handler := Metrics(mock)(http.HandlerFunc(okHandler))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if len(mock.requests) != 0 {
		t.Errorf("expected /metrics to be skipped, got %d records", len(mock.requests))
	}
}

func TestMetrics_PanicRecordedAs500(t *testing.T) {
	mock := &mockMetricsRecorder{}
	handler := Recovery(logger.Nop())(Metrics(mock)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if len(mock.requests) != 1 || mock.requests[0].status != "500" {
		t.Fatalf("expected a single 500 record, got %+v", mock.requests)
	}
	if mock.activeConns != 0 {
		t.Errorf("active connections = %d, want 0", mock.activeConns)
	}
}

func setTracingTestProvider(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
	return recorder
}

func hasAttribute(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_ContinuesInboundTrace(t *testing.T) {
	recorder := setTracingTestProvider(t)

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		SpanID:     trace.SpanID{2, 2, 2, 2, 2, 2, 2, 2},
		TraceFlags: trace.FlagsSampled,
	})
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(trace.ContextWithSpanContext(context.Background(), parent), carrier)

	mock := &mockMetricsRecorder{}
	r := chi.NewRouter()
	r.Use(Tracing(DefaultTracingOptions()), Metrics(mock))
	r.Get("/api/v1/states", okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/states", nil)
	for k, v := range carrier {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Parent().TraceID() != parent.TraceID() {
		t.Errorf("trace id = %s, want %s", spans[0].Parent().TraceID(), parent.TraceID())
	}
	if v, ok := hasAttribute(spans[0].Attributes(), "http.route"); !ok || v.AsString() != "/api/v1/states" {
		t.Errorf("http.route = %v, want /api/v1/states", v.AsString())
	}
	if v, ok := hasAttribute(spans[0].Attributes(), "http.response.status_code"); !ok || v.AsInt64() != http.StatusOK {
		t.Errorf("status attribute = %v", v.AsInt64())
	}
	if len(mock.requests) != 1 || !mock.requests[0].traced {
		t.Error("expected metrics to see the request span in context")
	}
}

func TestTracing_SkipsProbes(t *testing.T) {
	recorder := setTracingTestProvider(t)

	handler := Tracing(DefaultTracingOptions())(http.HandlerFunc(okHandler))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if n := len(recorder.Ended()); n != 0 {
		t.Errorf("expected no spans for /health, got %d", n)
	}
}

func TestTracing_ServerErrorStatus(t *testing.T) {
	recorder := setTracingTestProvider(t)

	handler := Tracing(TracingOptions{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/spikes", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code.String() != "Error" {
		t.Errorf("span status = %s, want Error", spans[0].Status().Code)
	}
}
