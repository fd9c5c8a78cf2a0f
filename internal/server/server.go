// Package server serves live collection state over HTTP: the websocket
// broadcast hub, Prometheus metrics, and a read-only JSON view of the tab
// store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/broadcast"
	"github.com/artpar/cookielens/internal/metrics"
	"github.com/artpar/cookielens/internal/report"
	"github.com/artpar/cookielens/internal/tabs"
)

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("server is already running")

// Config holds the server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g. "127.0.0.1:7878", ":0").
	ListenAddr string

	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with the default timeouts.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:7878",
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Option modifies the Server.
type Option func(*Server)

// WithListenAddr sets the listen address.
func WithListenAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.config.ListenAddr = addr
		}
	}
}

// WithHub mounts the broadcast hub at /ws.
func WithHub(h *broadcast.Hub) Option {
	return func(s *Server) {
		s.hub = h
	}
}

// WithMetrics mounts the metrics handler at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server is the watch-mode HTTP server.
type Server struct {
	config  Config
	store   *tabs.Store
	hub     *broadcast.Hub
	metrics *metrics.Metrics
	logger  *zap.Logger

	httpServer *http.Server
	listener   net.Listener
	running    bool
	mu         sync.RWMutex
}

// New creates a server reading from store.
func New(store *tabs.Store, opts ...Option) *Server {
	s := &Server{
		config: DefaultConfig(),
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/tabs", s.handleListTabs)
	mux.HandleFunc("GET /api/tabs/{id...}", s.handleGetTab)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Start listens and serves in the background until ctx is cancelled or Stop
// is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.config.ReadTimeout,
		IdleTimeout: s.config.IdleTimeout,
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Server listening", zap.String("addr", listener.Addr().String()))

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop shuts the server down, closing the hub's websocket clients first.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.hub != nil {
		s.hub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.httpServer.Close()
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// IsRunning returns true if the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ListenAddr returns the bound address, which differs from the configured
// one when listening on port 0.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.ListenAddr
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	summaries := report.SummarizeAll(entries)
	for i := range summaries {
		summaries[i].Cookies = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": summaries})
}

func (s *Server) handleGetTab(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Summarize(id, entry))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.store.Usage(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tabs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tabs.ErrStoreClosed):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Warn("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
