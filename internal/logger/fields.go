package logger

// Standard field keys for structured logging. Use these consistently so
// log lines from the dispatcher, service, drivers, and reconciler can be
// correlated and queried together.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Operation identity
	KeyOperation     = "operation"
	KeyJobID         = "job_id"
	KeyTargetID      = "target_id"
	KeyNodeID        = "node_id"
	KeyCorrelationID = "correlation_id"

	// Mount state
	KeyMountPath  = "mount_path"
	KeyExport     = "export"
	KeyKind       = "kind"
	KeyMounted    = "mounted"
	KeyAccessible = "accessible"
	KeyRefCount   = "active_jobs"

	// Processes
	KeyPID     = "pid"
	KeyPIDFile = "pid_file"

	// Outcome
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorKind  = "error_kind"
)
