package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/mountd/internal/logger"
	"github.com/marmos91/mountd/pkg/api/handlers"
)

// Deps are the daemon components the endpoint reads from. Everything is
// read-only: the endpoint observes the daemon, it never drives it.
type Deps struct {
	// Health answers the database liveness probe. Usually *store.Store.
	Health handlers.HealthChecker

	// Reporter serves the reconciliation report. Usually
	// *service.Reconciler. May be nil; the affected routes answer 503.
	Reporter handlers.StatusReporter

	// NodeID, Version and Queue describe this daemon instance.
	NodeID  string
	Version string
	Queue   string

	// StartedAt is when the daemon came up, for the uptime field.
	StartedAt time.Time

	// Metrics serves GET /metrics when non-nil. Wire the registry the
	// daemon's instruments are registered in; nil leaves the route out.
	Metrics prometheus.Gatherer
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Database readiness probe
//   - GET /status - Daemon status summary
//   - GET /reconciliation - Full per-target reconciliation report
//   - GET /metrics - Prometheus metrics (when enabled)
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Health, deps.NodeID)
	statusHandler := handlers.NewStatusHandler(handlers.StatusInfo{
		NodeID:    deps.NodeID,
		Version:   deps.Version,
		Queue:     deps.Queue,
		StartedAt: deps.StartedAt,
	}, deps.Reporter)
	reconciliationHandler := handlers.NewReconciliationHandler(deps.Reporter)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})
	r.Get("/status", statusHandler.Status)
	r.Get("/reconciliation", reconciliationHandler.Report)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			deps.Metrics,
			promhttp.HandlerOpts{},
		))
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusNotFound, ErrorResponse("no such route"))
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
