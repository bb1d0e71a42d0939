package board

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/spikeflow/spikeflow/config"
	"github.com/spikeflow/spikeflow/pkg/events"
	"github.com/spikeflow/spikeflow/pkg/logger"
)

// Server defines the interface for HTTP server lifecycle management.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// HTTPServer serves the board.
type HTTPServer struct {
	config   *config.BoardConfig
	server   *http.Server
	router   chi.Router
	logger   logger.Logger
	handlers *Handlers

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	ready    chan struct{}
}

// NewHTTPServer creates a board server.
func NewHTTPServer(cfg *config.BoardConfig, log logger.Logger, h *Handlers) *HTTPServer {
	router := NewRouter(cfg, log, h)

	srv := &http.Server{
		Addr:           net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:        router,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	return &HTTPServer{
		config:   cfg,
		server:   srv,
		router:   router,
		logger:   log,
		handlers: h,
		ready:    make(chan struct{}),
	}
}

// Router returns the server's router.
func (s *HTTPServer) Router() chi.Router { return s.router }

// Addr returns the bound address once the server is listening, else the
// configured one.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} { return s.ready }

// Start listens and serves until Shutdown.
func (s *HTTPServer) Start() error {
	return s.StartWithEvents(nil)
}

// StartWithEvents is Start with b feeding the websocket clients.
func (s *HTTPServer) StartWithEvents(b *events.Broadcaster) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.logger.Error("Board listen failed", "addr", s.server.Addr, "error", err)
		return fmt.Errorf("failed to start board server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()
	close(s.ready)

	if b != nil && s.handlers.WebSocket != nil {
		go s.handlers.WebSocket.Stream(ctx, b)
	}

	s.logger.Info("Starting board server",
		"addr", ln.Addr().String(),
		"read_timeout", s.config.HTTP.ReadTimeout,
		"write_timeout", s.config.HTTP.WriteTimeout,
	)

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Board server failed", "error", err)
		return fmt.Errorf("board server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the board. Websocket clients are closed
// first since the HTTP server does not track hijacked connections.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down board server")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	if s.handlers.WebSocket != nil {
		s.handlers.WebSocket.Close()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Board server shutdown failed", "error", err)
		return fmt.Errorf("failed to shutdown board server: %w", err)
	}

	s.logger.Info("Board server stopped")
	return nil
}
