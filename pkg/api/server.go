// Package api serves the ops HTTP surface of the indexer: liveness, the
// pipeline status snapshot and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimiddleware "github.com/0xmhha/event-indexer/pkg/api/middleware"
	"github.com/0xmhha/event-indexer/pkg/indexer"
)

// StatusProvider supplies the pipeline snapshot served by /health and /status
type StatusProvider interface {
	Status() indexer.Status
}

// Server represents the ops server
type Server struct {
	config   *Config
	logger   *zap.Logger
	status   StatusProvider
	gatherer prometheus.Gatherer
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new ops server. A nil gatherer serves the default registry.
func NewServer(config *Config, logger *zap.Logger, status StatusProvider, gatherer prometheus.Gatherer) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if status == nil {
		return nil, errors.New("status provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		logger:   logger.With(zap.String("component", "api")),
		status:   status,
		gatherer: gatherer,
		router:   chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))
}

// setupRoutes configures the ops routes
func (s *Server) setupRoutes() {
	s.router.Get(s.config.HealthPath, s.handleHealth)
	s.router.Get(s.config.StatusPath, s.handleStatus)
	s.router.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	}))
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string        `json:"status"`
	State     indexer.State `json:"state"`
	Timestamp string        `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// handleHealth reports 503 while the pipeline is Failed
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()

	response := HealthResponse{
		Status:    "ok",
		State:     st.State,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	code := http.StatusOK
	if !st.Healthy() {
		response.Status = "failed"
		code = http.StatusServiceUnavailable
		if st.Failure != nil {
			response.Error = st.Failure.Error
		}
	}

	writeJSON(w, code, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start starts the ops server and blocks until it stops
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and blocks until the server stops
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting API server", zap.String("address", ln.Addr().String()))

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the ops server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
