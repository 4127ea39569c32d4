package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health check states. A degraded check is reported but does not fail the
// probes; an unhealthy one does.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ServerConfig holds configuration for the metrics server.
type ServerConfig struct {
	Port        int
	MetricsPath string
	HealthPath  string
	StatePath   string
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:        9464,
		MetricsPath: "/metrics",
		HealthPath:  "/health",
		StatePath:   "/state",
	}
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
	Failing   []string         `json:"failing,omitempty"`
}

// Check is the result of one named health check.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Healthy returns a passing check.
func Healthy() Check { return Check{Status: StatusHealthy} }

// Degraded returns a check that is reported but does not fail the probes.
func Degraded(msg string) Check { return Check{Status: StatusDegraded, Message: msg} }

// Unhealthy returns a failing check.
func Unhealthy(msg string) Check { return Check{Status: StatusUnhealthy, Message: msg} }

// Unknown states count as failing.
func (c Check) failing() bool { return c.Status != StatusHealthy && c.Status != StatusDegraded }

func (c Check) degraded() bool { return c.Status == StatusDegraded }

// HealthChecker is a function that performs a health check.
type HealthChecker func() Check

// StateProvider returns a JSON-serializable view of the running engine.
type StateProvider func() any

// Server exposes prometheus metrics, probes and the engine state over HTTP.
type Server struct {
	cfg        ServerConfig
	httpServer *http.Server
	handler    http.Handler
	startTime  time.Time
	logger     *slog.Logger

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	state    StateProvider
}

// NewServer creates a new metrics server.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger.With("component", "metrics"),
		checkers:  make(map[string]HealthChecker),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.HealthPath, s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)
	if cfg.StatePath != "" {
		mux.HandleFunc(cfg.StatePath, s.stateHandler)
	}
	s.handler = mux

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed endpoints without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// RegisterHealthCheck registers a health checker. A second registration under
// the same name replaces the first.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// SetStateProvider installs the source for the state endpoint.
func (s *Server) SetStateProvider(p StateProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = p
}

// Start binds the port and serves in the background. A bind failure is
// returned to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("metrics server listening",
		"addr", ln.Addr().String(),
		"metrics_path", s.cfg.MetricsPath,
		"health_path", s.cfg.HealthPath,
		"state_path", s.cfg.StatePath,
	)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

// evaluate runs every registered check outside the lock.
func (s *Server) evaluate() HealthStatus {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for k, v := range s.checkers {
		checkers[k] = v
	}
	s.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    s.Uptime().Round(time.Second).String(),
		Checks:    make(map[string]Check, len(checkers)),
	}
	for name, checker := range checkers {
		c := checker()
		status.Checks[name] = c
		switch {
		case c.failing():
			status.Failing = append(status.Failing, name)
		case c.degraded() && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	if len(status.Failing) > 0 {
		sort.Strings(status.Failing)
		status.Status = StatusUnhealthy
	}
	return status
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := s.evaluate()
	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	provider := s.state
	s.mu.RUnlock()

	if provider == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no state provider"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(provider()); err != nil {
		s.logger.Error("encode state", "err", err)
	}
}

// readyHandler fails while any check is unhealthy and names the culprits.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := s.evaluate()
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready: %v", status.Failing)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
