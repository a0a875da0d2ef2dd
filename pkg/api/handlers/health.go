package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker reports whether the daemon's database is reachable.
// *store.Store satisfies it.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the daemon process running?
//   - Readiness probe: Can the daemon reach its database?
type HealthHandler struct {
	health HealthChecker
	nodeID string
}

// NewHealthHandler creates a new health handler.
//
// The health parameter may be nil, in which case the readiness check
// reports unhealthy.
func NewHealthHandler(health HealthChecker, nodeID string) *HealthHandler {
	return &HealthHandler{health: health, nodeID: nodeID}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the daemon process is running. Designed for systemd
// watchdogs and Kubernetes liveness probes; it succeeds as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "mountd",
		"node_id": h.nodeID,
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK when the ledger database answers a ping. A daemon that
// cannot reach its database cannot execute mount requests, so it reports
// 503 Service Unavailable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("store not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.health.Healthcheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("database unreachable: "+err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"node_id":    h.nodeID,
		"db_latency": time.Since(start).String(),
	}))
}
