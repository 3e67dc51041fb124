package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/greemqtt/internal/gateway"
	"github.com/nerrad567/greemqtt/internal/infrastructure/config"
	"github.com/nerrad567/greemqtt/internal/infrastructure/logging"
	"github.com/nerrad567/greemqtt/internal/infrastructure/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StatusProvider reports the live bridge state.
type StatusProvider interface {
	Status() gateway.Status
}

// HealthChecker is satisfied by infrastructure clients (MQTT, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Bridge  StatusProvider
	Metrics *metrics.Metrics

	// Checks are probed by GET /health, keyed by component name.
	Checks  map[string]HealthChecker
	Version string
}

// Server is the HTTP status server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    StatusProvider
	metrics   *metrics.Metrics
	checks    map[string]HealthChecker
	version   string
	startedAt time.Time
	server    *http.Server
	listener  net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	checks := make(map[string]HealthChecker, len(deps.Checks))
	for name, c := range deps.Checks {
		if c != nil {
			checks[name] = c
		}
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		metrics:   deps.Metrics,
		checks:    checks,
		version:   deps.Version,
		startedAt: time.Now(),
	}, nil
}

// Start binds the listen address and serves in a background goroutine.
// A bind failure (port in use) is returned synchronously.
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.Read,
		ReadHeaderTimeout: s.cfg.Timeouts.Read,
		WriteTimeout:      s.cfg.Timeouts.Write,
		IdleTimeout:       s.cfg.Timeouts.Idle,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
