// Package metrics exposes Prometheus instrumentation for mount service
// operations. A nil *OpsMetrics is a valid no-op receiver, so callers never
// need to guard metric calls behind a flag check.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OpsMetrics tracks Prometheus metrics for mount and unmount processing.
//
// All metrics use the "mountd_" prefix. Methods handle a nil receiver
// gracefully, so a nil *OpsMetrics acts as a no-op (zero overhead when
// metrics are disabled).
type OpsMetrics struct {
	// Operations counts mount/unmount requests by outcome.
	// Labels: operation=[mount, unmount], outcome=[success, failure]
	Operations *prometheus.CounterVec

	// OperationDuration tracks end-to-end operation latency.
	// Labels: operation=[mount, unmount]
	OperationDuration *prometheus.HistogramVec

	// PhysicalMounts counts actual filesystem attach/detach events,
	// as opposed to ledger-only refcount changes.
	// Labels: kind=[nfs, s3], direction=[mount, unmount]
	PhysicalMounts *prometheus.CounterVec

	// ActiveMounts tracks the number of targets currently mounted on
	// this node according to the ledger.
	ActiveMounts prometheus.Gauge

	// LockWait tracks time spent waiting for the per-node operation lock.
	LockWait prometheus.Histogram

	// Messages counts broker deliveries by disposition.
	// Labels: result=[handled, malformed, wrong_node, error]
	Messages *prometheus.CounterVec

	// ReconcileRuns counts reconciliation passes by result.
	// Labels: result=[success, failure]
	ReconcileRuns *prometheus.CounterVec

	// AdoptedProcesses counts user-space filesystem helpers re-attached
	// from PID files after a daemon restart.
	AdoptedProcesses prometheus.Counter
}

var (
	opsMetricsOnce     sync.Once
	opsMetricsInstance *OpsMetrics
)

// New creates and registers the mount service Prometheus metrics.
//
// If registerer is nil, prometheus.DefaultRegisterer is used. The function
// is idempotent: metrics are registered exactly once even if called multiple
// times (the dispatcher and the HTTP server both ask for the instance).
func New(registerer prometheus.Registerer) *OpsMetrics {
	opsMetricsOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}

		m := &OpsMetrics{
			Operations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mountd_operations_total",
					Help: "Total mount/unmount operations by outcome",
				},
				[]string{"operation", "outcome"},
			),
			OperationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mountd_operation_duration_seconds",
					Help:    "Mount/unmount operation duration in seconds",
					Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
				},
				[]string{"operation"},
			),
			PhysicalMounts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mountd_physical_mounts_total",
					Help: "Total physical filesystem attach/detach events",
				},
				[]string{"kind", "direction"},
			),
			ActiveMounts: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "mountd_active_mounts",
					Help: "Targets currently mounted on this node",
				},
			),
			LockWait: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mountd_lock_wait_seconds",
					Help:    "Time spent waiting for the per-node operation lock",
					Buckets: prometheus.DefBuckets,
				},
			),
			Messages: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mountd_dispatcher_messages_total",
					Help: "Total broker deliveries by disposition",
				},
				[]string{"result"},
			),
			ReconcileRuns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mountd_reconcile_runs_total",
					Help: "Total reconciliation passes by result",
				},
				[]string{"result"},
			),
			AdoptedProcesses: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mountd_adopted_processes_total",
					Help: "User-space filesystem processes adopted from PID files",
				},
			),
		}

		registerer.MustRegister(
			m.Operations,
			m.OperationDuration,
			m.PhysicalMounts,
			m.ActiveMounts,
			m.LockWait,
			m.Messages,
			m.ReconcileRuns,
			m.AdoptedProcesses,
		)

		opsMetricsInstance = m
	})

	return opsMetricsInstance
}

// RecordOperation records a completed mount or unmount request.
func (m *OpsMetrics) RecordOperation(operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPhysicalMount records an actual filesystem attach.
func (m *OpsMetrics) RecordPhysicalMount(kind string) {
	if m == nil {
		return
	}
	m.PhysicalMounts.WithLabelValues(kind, "mount").Inc()
	m.ActiveMounts.Inc()
}

// RecordPhysicalUnmount records an actual filesystem detach.
func (m *OpsMetrics) RecordPhysicalUnmount(kind string) {
	if m == nil {
		return
	}
	m.PhysicalMounts.WithLabelValues(kind, "unmount").Inc()
	m.ActiveMounts.Dec()
}

// SetActiveMounts resets the active mount gauge, used after reconciliation
// recomputes the mounted set from the ledger.
func (m *OpsMetrics) SetActiveMounts(n int) {
	if m == nil {
		return
	}
	m.ActiveMounts.Set(float64(n))
}

// RecordLockWait records time spent acquiring the node operation lock.
func (m *OpsMetrics) RecordLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(duration.Seconds())
}

// RecordMessage records a broker delivery disposition
// (handled, malformed, wrong_node, error).
func (m *OpsMetrics) RecordMessage(result string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(result).Inc()
}

// RecordReconcile records a reconciliation pass.
func (m *OpsMetrics) RecordReconcile(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.ReconcileRuns.WithLabelValues(result).Inc()
}

// RecordAdoptions records processes re-attached during startup recovery.
func (m *OpsMetrics) RecordAdoptions(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.AdoptedProcesses.Add(float64(count))
}
