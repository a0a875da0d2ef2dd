package handlers

import (
	"net/http"
)

// ReconciliationHandler handles GET /reconciliation.
type ReconciliationHandler struct {
	reporter StatusReporter
}

// NewReconciliationHandler creates a new reconciliation handler.
func NewReconciliationHandler(reporter StatusReporter) *ReconciliationHandler {
	return &ReconciliationHandler{reporter: reporter}
}

// Report handles GET /reconciliation - the full per-target report: every
// target this node has ledger history for, its claim count, whether its
// filesystem answers, and any ledger/filesystem contradictions. The same
// report backs `mountd reconcile status`.
func (h *ReconciliationHandler) Report(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("reconciler not initialized"))
		return
	}

	report, err := h.reporter.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("reconciliation report failed: "+err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, okResponse(report))
}
