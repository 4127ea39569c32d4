package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()

	if cfg.Port != 9464 {
		t.Errorf("Port = %d, want 9464", cfg.Port)
	}
	if cfg.MetricsPath != "/metrics" || cfg.HealthPath != "/health" || cfg.StatePath != "/state" {
		t.Errorf("paths = %s %s %s", cfg.MetricsPath, cfg.HealthPath, cfg.StatePath)
	}
}

func get(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name        string
		checks      map[string]Check
		wantStatus  string
		wantHealth  int
		wantReady   int
		wantFailing []string
	}{
		{
			name:       "no checks",
			wantStatus: StatusHealthy,
			wantHealth: http.StatusOK,
			wantReady:  http.StatusOK,
		},
		{
			name: "all healthy",
			checks: map[string]Check{
				"broker": Healthy(),
				"feed":   Healthy(),
			},
			wantStatus: StatusHealthy,
			wantHealth: http.StatusOK,
			wantReady:  http.StatusOK,
		},
		{
			name: "kill switch degrades without failing",
			checks: map[string]Check{
				"broker": Healthy(),
				"risk":   Degraded("kill switch active"),
			},
			wantStatus: StatusDegraded,
			wantHealth: http.StatusOK,
			wantReady:  http.StatusOK,
		},
		{
			name: "stale feed fails",
			checks: map[string]Check{
				"risk": Degraded("kill switch active"),
				"feed": Unhealthy("no ticks"),
			},
			wantStatus:  StatusUnhealthy,
			wantHealth:  http.StatusServiceUnavailable,
			wantReady:   http.StatusServiceUnavailable,
			wantFailing: []string{"feed"},
		},
		{
			name: "unknown state counts as failing",
			checks: map[string]Check{
				"broker": {Status: "flapping"},
				"feed":   Unhealthy("no ticks"),
			},
			wantStatus:  StatusUnhealthy,
			wantHealth:  http.StatusServiceUnavailable,
			wantReady:   http.StatusServiceUnavailable,
			wantFailing: []string{"broker", "feed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(DefaultServerConfig(), nil)
			for name, c := range tt.checks {
				s.RegisterHealthCheck(name, func() Check { return c })
			}

			w := get(t, s, http.MethodGet, "/health")
			if w.Code != tt.wantHealth {
				t.Errorf("/health code = %d, want %d", w.Code, tt.wantHealth)
			}
			var status HealthStatus
			if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("checks = %d, want %d", len(status.Checks), len(tt.checks))
			}
			if strings.Join(status.Failing, ",") != strings.Join(tt.wantFailing, ",") {
				t.Errorf("failing = %v, want %v", status.Failing, tt.wantFailing)
			}

			r := get(t, s, http.MethodGet, "/ready")
			if r.Code != tt.wantReady {
				t.Errorf("/ready code = %d, want %d", r.Code, tt.wantReady)
			}
			if tt.wantReady == http.StatusOK && r.Body.String() != "ready" {
				t.Errorf("/ready body = %q", r.Body.String())
			}
			for _, name := range tt.wantFailing {
				if !strings.Contains(r.Body.String(), name) {
					t.Errorf("/ready body %q does not name %s", r.Body.String(), name)
				}
			}
		})
	}
}

func TestServer_ReplacesCheckByName(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)
	s.RegisterHealthCheck("feed", func() Check { return Unhealthy("no ticks") })
	s.RegisterHealthCheck("feed", func() Check { return Healthy() })

	if w := get(t, s, http.MethodGet, "/ready"); w.Code != http.StatusOK {
		t.Errorf("/ready code = %d, want 200 after replacement", w.Code)
	}
}

func TestServer_LiveAndMetrics(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)

	w := get(t, s, http.MethodGet, "/live")
	if w.Code != http.StatusOK || w.Body.String() != "alive" {
		t.Errorf("/live = %d %q", w.Code, w.Body.String())
	}

	m := get(t, s, http.MethodGet, "/metrics")
	if m.Code != http.StatusOK {
		t.Errorf("/metrics code = %d", m.Code)
	}
}

func TestServer_StateHandler(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)

	if w := get(t, s, http.MethodGet, "/state"); w.Code != http.StatusNotFound {
		t.Errorf("status code without provider = %d, want %d", w.Code, http.StatusNotFound)
	}

	s.SetStateProvider(func() any {
		return map[string]any{"phase": "ACTIVE", "legs": 2}
	})

	w := get(t, s, http.MethodGet, "/state")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["phase"] != "ACTIVE" {
		t.Errorf("phase = %v, want ACTIVE", got["phase"])
	}

	if w := get(t, s, http.MethodPost, "/state"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestServer_StateDisabled(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.StatePath = ""
	s := NewServer(cfg, nil)
	s.SetStateProvider(func() any { return "x" })

	if w := get(t, s, http.MethodGet, "/state"); w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404 with state path disabled", w.Code)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := NewServer(ServerConfig{Port: 0, MetricsPath: "/metrics", HealthPath: "/health"}, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestServer_StartReportsBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := NewServer(ServerConfig{Port: port, MetricsPath: "/metrics", HealthPath: "/health"}, nil)
	if err := s.Start(); err == nil {
		_ = s.Shutdown(context.Background())
		t.Fatal("Start() on a taken port succeeded")
	}
}

func TestServer_Uptime(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)
	time.Sleep(10 * time.Millisecond)
	if up := s.Uptime(); up < 10*time.Millisecond {
		t.Errorf("uptime = %v, expected >= 10ms", up)
	}
}
