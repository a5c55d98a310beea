package http

import (
	"net/http"
	"sync/atomic"

	"github.com/archon-research/stl-trade/internal/ports/inbound"
)

// Health serves orchestration probes for a rolling deployment:
//
//   - /health/ready  200 once recovered orders are enqueued and workers run
//   - /health/live   200 while the worker loop runs
//   - /health        both, for monitoring and load balancer checks
//
// After SIGTERM the caller sets shuttingDown and every probe answers 503 so
// traffic moves to the replacement task before the queue drains.
type Health struct {
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	respond      *Handler
}

type healthResponse struct {
	Status       string `json:"status"`
	Ready        bool   `json:"ready"`
	Healthy      bool   `json:"healthy"`
	ShuttingDown bool   `json:"shuttingDown"`
}

// NewHealth creates the probe handlers. shuttingDown may be nil.
func NewHealth(checker inbound.HealthChecker, shuttingDown *atomic.Bool, h *Handler) *Health {
	if shuttingDown == nil {
		shuttingDown = new(atomic.Bool)
	}
	return &Health{checker: checker, shuttingDown: shuttingDown, respond: h}
}

// RegisterRoutes registers the probe routes with mux.
func (hp *Health) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/ready", hp.Ready)
	mux.HandleFunc("GET /health/live", hp.Live)
	mux.HandleFunc("GET /health", hp.Health)
}

// Ready is the readiness probe.
func (hp *Health) Ready(w http.ResponseWriter, _ *http.Request) {
	hp.probe(w, hp.checker.IsReady(), "ready", "not_ready")
}

// Live is the liveness probe.
func (hp *Health) Live(w http.ResponseWriter, _ *http.Request) {
	hp.probe(w, hp.checker.IsHealthy(), "healthy", "unhealthy")
}

func (hp *Health) probe(w http.ResponseWriter, ok bool, up, down string) {
	switch {
	case hp.shuttingDown.Load():
		hp.respond.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
	case ok:
		hp.respond.respondJSON(w, http.StatusOK, map[string]string{"status": up})
	default:
		hp.respond.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": down})
	}
}

// Health reports readiness and liveness together.
func (hp *Health) Health(w http.ResponseWriter, _ *http.Request) {
	if hp.shuttingDown.Load() {
		hp.respond.respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "shutting_down", ShuttingDown: true})
		return
	}

	resp := healthResponse{
		Status:  "ok",
		Ready:   hp.checker.IsReady(),
		Healthy: hp.checker.IsHealthy(),
	}
	code := http.StatusOK
	if !resp.Ready || !resp.Healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	hp.respond.respondJSON(w, code, resp)
}
