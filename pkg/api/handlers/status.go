package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/mountd/pkg/service"
)

// StatusReporter serves the per-target reconciliation report.
// *service.Reconciler satisfies it.
type StatusReporter interface {
	Status(ctx context.Context) (*service.Report, error)
}

// StatusInfo is the static identity the status endpoint reports.
type StatusInfo struct {
	NodeID    string
	Version   string
	Queue     string
	StartedAt time.Time
}

// StatusResponse summarizes the daemon for GET /status. Per-target detail
// lives under /reconciliation; this is the one-glance view.
type StatusResponse struct {
	NodeID        string `json:"node_id"`
	Version       string `json:"version"`
	Queue         string `json:"queue"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	Targets         int   `json:"targets"`
	MountedTargets  int   `json:"mounted_targets"`
	ActiveJobs      int64 `json:"active_jobs"`
	Inconsistencies int   `json:"inconsistencies"`
}

// StatusHandler handles GET /status.
type StatusHandler struct {
	info     StatusInfo
	reporter StatusReporter
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(info StatusInfo, reporter StatusReporter) *StatusHandler {
	return &StatusHandler{info: info, reporter: reporter}
}

// Status handles GET /status - daemon status summary.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		NodeID:        h.info.NodeID,
		Version:       h.info.Version,
		Queue:         h.info.Queue,
		UptimeSeconds: int64(time.Since(h.info.StartedAt).Seconds()),
	}

	if h.reporter == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("reconciler not initialized"))
		return
	}

	report, err := h.reporter.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("status report failed: "+err.Error()))
		return
	}

	resp.Targets = len(report.Mounts)
	resp.Inconsistencies = len(report.Inconsistencies)
	for _, state := range report.Mounts {
		if state.IsMounted {
			resp.MountedTargets++
		}
		resp.ActiveJobs += state.ActiveJobs
	}

	writeJSON(w, http.StatusOK, okResponse(resp))
}
