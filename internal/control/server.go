// Package control serves the companion's local HTTP API: the read-only usage
// query, the override setter, health and metrics.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// UsageAPI is the ledger view the control surface may use.
type UsageAPI interface {
	Usage(ctx context.Context) (*domain.UsageReport, error)
	SetOverrideUntil(ctx context.Context, until time.Time) error
	GrantOverride(ctx context.Context, d time.Duration) (time.Time, error)
	ClearOverride(ctx context.Context) error
}

// Config holds the control server configuration.
type Config struct {
	ListenAddr string
}

// Server is the control HTTP server.
type Server struct {
	config Config
	usage  UsageAPI
	router *mux.Router
	server *http.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a control server.
func NewServer(cfg Config, usage UsageAPI, logger *zap.Logger) *Server {
	s := &Server{
		config: cfg,
		usage:  usage,
		router: mux.NewRouter(),
		logger: logger.With(zap.String("component", "control")),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "No such endpoint")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)
	api.HandleFunc("/override", s.handleSetOverride).Methods(http.MethodPut)
	api.HandleFunc("/override", s.handleClearOverride).Methods(http.MethodDelete)
	api.HandleFunc("/override/grant", s.handleGrantOverride).Methods(http.MethodPost)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("starting control server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.ListenAddr
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping control server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}
	return nil
}
