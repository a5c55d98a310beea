package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type mockHealthChecker struct {
	ready   bool
	healthy bool
}

func (m *mockHealthChecker) IsReady() bool   { return m.ready }
func (m *mockHealthChecker) IsHealthy() bool { return m.healthy }

func TestHealthProbes(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		ready        bool
		healthy      bool
		shuttingDown bool
		wantStatus   int
		wantBody     string
	}{
		{"ready", "/health/ready", true, true, false, http.StatusOK, "ready"},
		{"not ready", "/health/ready", false, true, false, http.StatusServiceUnavailable, "not_ready"},
		{"ready while shutting down", "/health/ready", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
		{"live", "/health/live", false, true, false, http.StatusOK, "healthy"},
		{"not live", "/health/live", true, false, false, http.StatusServiceUnavailable, "unhealthy"},
		{"live while shutting down", "/health/live", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
		{"combined ok", "/health", true, true, false, http.StatusOK, "ok"},
		{"combined degraded", "/health", false, true, false, http.StatusServiceUnavailable, "degraded"},
		{"combined shutting down", "/health", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)
			router := NewRouter(ServerConfig{}, &mockOrderService{}, &mockHealthChecker{ready: tt.ready, healthy: tt.healthy}, &shuttingDown)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var resp map[string]any
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["status"] != tt.wantBody {
				t.Errorf("expected status %q, got %v", tt.wantBody, resp["status"])
			}
		})
	}
}

func TestRouter_CORS(t *testing.T) {
	config := ServerConfig{AllowedOrigins: []string{"https://app.example.com"}}
	router := NewRouter(config, &mockOrderService{}, &mockHealthChecker{ready: true, healthy: true}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/orders", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", OwnerHeader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected allowed origin header, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q for unlisted origin", got)
	}
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(ServerConfig{}, nil, &mockHealthChecker{}, nil); err == nil {
		t.Error("expected error without order service")
	}
	if _, err := NewServer(ServerConfig{}, &mockOrderService{}, nil, nil); err == nil {
		t.Error("expected error without health checker")
	}
	s, err := NewServer(ServerConfig{}, &mockOrderService{}, &mockHealthChecker{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.server.Addr != ":8080" || s.server.ReadTimeout == 0 {
		t.Errorf("defaults not applied: addr=%q", s.server.Addr)
	}
}
