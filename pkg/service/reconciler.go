package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/mountd/internal/logger"
	"github.com/marmos91/mountd/internal/telemetry"
	"github.com/marmos91/mountd/pkg/metrics"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/marmos91/mountd/pkg/mount"
	"github.com/marmos91/mountd/pkg/oplock"
	"github.com/marmos91/mountd/pkg/procs"
	"github.com/marmos91/mountd/pkg/store"
)

// Inconsistency issues reported by Status.
const (
	// IssueMountedWithoutJobs is a filesystem attached with no active job
	// holding it. The reconciler unmounts these.
	IssueMountedWithoutJobs = "mounted_without_jobs"

	// IssueJobsWithoutMount is a set of active claims whose filesystem is
	// not attached. The reconciler cannot repair these without a token;
	// it clears the cached flags and leaves the rest to the jobs.
	IssueJobsWithoutMount = "jobs_without_mount"
)

// TargetState is one target's ledger/filesystem state on this node.
type TargetState struct {
	TargetID   string            `json:"target_id"`
	Name       string            `json:"name"`
	Kind       models.TargetKind `json:"kind"`
	MountPath  string            `json:"mount_path"`
	ActiveJobs int64             `json:"active_jobs"`
	IsMounted  bool              `json:"is_mounted"`
	Stale      bool              `json:"stale,omitempty"`
	Process    *ProcessState     `json:"process,omitempty"`
}

// ProcessState describes the user-fs child serving a mounted target.
type ProcessState struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Adopted   bool      `json:"adopted"`
}

// Inconsistency is a target whose filesystem state contradicts its
// ledger state.
type Inconsistency struct {
	TargetID   string            `json:"target_id"`
	Kind       models.TargetKind `json:"kind"`
	ActiveJobs int64             `json:"active_jobs"`
	IsMounted  bool              `json:"is_mounted"`
	Issue      string            `json:"issue"`
}

// Report is a point-in-time view of every target this node has ledger
// history for, served by the status endpoint and the CLI.
type Report struct {
	NodeID          string          `json:"node_id"`
	GeneratedAt     time.Time       `json:"generated_at"`
	Mounts          []TargetState   `json:"mounts"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Store   *store.Store
	Drivers *mount.Drivers
	Lock    *oplock.Serializer
	NodeID  string

	// Registry and UserFSBinary drive process adoption. Nodes that only
	// serve network filesystem targets may leave both empty.
	Registry     *procs.Registry
	UserFSBinary string

	// Interval re-runs reconciliation periodically. Zero disables the
	// periodic loop; the startup pass is the caller's Reconcile call.
	Interval time.Duration

	// Metrics records pass outcomes, adoptions and the active mount gauge.
	// Nil disables instrumentation.
	Metrics *metrics.OpsMetrics
}

// Reconciler converges the ledger and the filesystems after crashes and
// restarts. It adopts surviving user-fs children, unmounts targets nobody
// holds anymore, and flags claims whose mount is gone.
type Reconciler struct {
	store        *store.Store
	drivers      *mount.Drivers
	lock         *oplock.Serializer
	nodeID       string
	registry     *procs.Registry
	userFSBinary string
	interval     time.Duration
	metrics      *metrics.OpsMetrics
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("reconciler: store is required")
	case opts.Drivers == nil:
		return nil, errors.New("reconciler: mount drivers are required")
	case opts.Lock == nil:
		return nil, errors.New("reconciler: operation lock is required")
	case opts.NodeID == "":
		return nil, errors.New("reconciler: node id is required")
	}
	return &Reconciler{
		store:        opts.Store,
		drivers:      opts.Drivers,
		lock:         opts.Lock,
		nodeID:       opts.NodeID,
		registry:     opts.Registry,
		userFSBinary: opts.UserFSBinary,
		interval:     opts.Interval,
		metrics:      opts.Metrics,
	}, nil
}

// Run re-runs reconciliation on every interval tick until the context is
// done. It returns immediately when no interval is configured. Failures
// are logged and the loop keeps going; an unhealed inconsistency shows up
// in Status rather than taking the daemon down.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				logger.ErrorCtx(ctx, "periodic reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile performs one full pass: adopt surviving children, then
// converge every target this node has ledger history for. Per-target
// failures are logged and do not stop the pass; the returned error covers
// only failures that prevented the pass from running at all.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	started := time.Now()
	ctx, span := telemetry.StartReconcileSpan(ctx, telemetry.SpanReconcilePass,
		telemetry.NodeID(r.nodeID))
	defer span.End()
	logger.InfoCtx(ctx, "reconciliation started", "node_id", r.nodeID)

	r.adopt(ctx)

	targetIDs, err := r.store.DistinctTargetsForNode(ctx, r.nodeID)
	if err != nil {
		telemetry.RecordError(ctx, err)
		r.metrics.RecordReconcile(false)
		return fmt.Errorf("listing ledger targets: %w", err)
	}

	failed, mounted := 0, 0
	for _, targetID := range targetIDs {
		stillMounted, err := r.reconcileTarget(ctx, targetID)
		if err != nil {
			failed++
			logger.ErrorCtx(ctx, "target reconciliation failed",
				"target_id", targetID, "error", err)
		}
		if stillMounted {
			mounted++
		}
	}
	r.metrics.SetActiveMounts(mounted)
	r.metrics.RecordReconcile(failed == 0)

	logger.InfoCtx(ctx, "reconciliation complete",
		"node_id", r.nodeID,
		"targets", len(targetIDs),
		"mounted", mounted,
		"failed", failed,
		"duration_ms", logger.Duration(started))
	return nil
}

// adopt rebuilds the process table from PID files, resolving each live
// child's mount path back to its target through the store.
func (r *Reconciler) adopt(ctx context.Context) {
	if r.registry == nil || r.userFSBinary == "" {
		return
	}
	adopted := r.registry.Adopt(ctx, r.userFSBinary, func(ctx context.Context, mountPath string) (string, error) {
		if mountPath == "" {
			return "", errors.New("process has no mount path argument")
		}
		target, err := r.store.FindTargetByMountPath(ctx, mountPath)
		if err != nil {
			return "", err
		}
		return target.ID, nil
	})
	r.metrics.RecordAdoptions(len(adopted))
	logger.InfoCtx(ctx, "user-fs process adoption complete", "adopted", len(adopted))
}

// reconcileTarget converges one target under the operation lock, inside
// one transaction. It reports whether the target's filesystem is still
// attached afterwards, which feeds the active mount gauge.
func (r *Reconciler) reconcileTarget(ctx context.Context, targetID string) (bool, error) {
	ctx, span := telemetry.StartReconcileSpan(ctx, telemetry.SpanReconcileTarget,
		telemetry.TargetID(targetID))
	defer span.End()

	release, err := r.lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	var mountedAfter bool
	err = r.store.Transaction(ctx, func(tx *store.Store) error {
		// Soft-deleted targets still converge: their mounts must drain
		// even though they no longer accept requests.
		target, err := tx.GetTargetIncludingDeleted(ctx, targetID)
		if errors.Is(err, models.ErrTargetNotFound) {
			logger.WarnCtx(ctx, "ledger references missing target", "target_id", targetID)
			return nil
		}
		if err != nil {
			return err
		}

		driver, err := r.drivers.ForTarget(target)
		if err != nil {
			logger.WarnCtx(ctx, "no driver for target", "target_id", targetID, "kind", target.Kind)
			return nil
		}

		status, err := driver.IsMounted(ctx, target.MountPath)
		if err != nil {
			return err
		}
		n, err := tx.ActiveJobCount(ctx, targetID, r.nodeID)
		if err != nil {
			return err
		}
		mountedAfter = status.Mounted

		logger.InfoCtx(ctx, "reconciling target",
			"target_id", targetID,
			"kind", target.Kind,
			"active_jobs", n,
			"mounted", status.Mounted,
			"accessible", status.Accessible)

		switch {
		case n == 0 && status.Mounted:
			// Nobody holds it anymore; tear it down. Unmount copes with
			// stale mounts.
			if err := driver.Unmount(ctx, target); err != nil {
				return fmt.Errorf("unmounting orphaned target: %w", err)
			}
			if _, err := tx.SetMountedFlag(ctx, targetID, r.nodeID, false, true); err != nil {
				return err
			}
			mountedAfter = false
			logger.InfoCtx(ctx, "unmounted orphaned target", "target_id", targetID)

		case n > 0 && status.Healthy():
			// Jobs hold it and the filesystem answers: adopt it.
			if _, err := tx.SetMountedFlag(ctx, targetID, r.nodeID, true, false); err != nil {
				return err
			}
			logger.InfoCtx(ctx, "adopted existing mount", "target_id", targetID, "active_jobs", n)

		case n > 0:
			// Jobs hold it but there is nothing usable underneath.
			// Remounting here is impossible without a caller token, so
			// record reality and let the jobs re-request.
			if status.Stale() {
				if err := driver.CleanupStale(ctx, target.MountPath); err != nil {
					logger.WarnCtx(ctx, "stale mount cleanup failed",
						"target_id", targetID, "mount_path", target.MountPath, "error", err)
				} else {
					mountedAfter = false
				}
			}
			if _, err := tx.SetMountedFlag(ctx, targetID, r.nodeID, false, true); err != nil {
				return err
			}
			logger.WarnCtx(ctx, "target has active jobs but no usable mount",
				"target_id", targetID, "active_jobs", n)

		default:
			// Not mounted, nobody waiting: consistent.
			logger.DebugCtx(ctx, "target consistent", "target_id", targetID)
		}
		return nil
	})
	return mountedAfter, err
}

// Status reports the current per-target state without changing anything.
func (r *Reconciler) Status(ctx context.Context) (*Report, error) {
	targetIDs, err := r.store.DistinctTargetsForNode(ctx, r.nodeID)
	if err != nil {
		return nil, fmt.Errorf("listing ledger targets: %w", err)
	}

	report := &Report{
		NodeID:          r.nodeID,
		GeneratedAt:     time.Now().UTC(),
		Mounts:          []TargetState{},
		Inconsistencies: []Inconsistency{},
	}

	for _, targetID := range targetIDs {
		target, err := r.store.GetTargetIncludingDeleted(ctx, targetID)
		if errors.Is(err, models.ErrTargetNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		driver, err := r.drivers.ForTarget(target)
		if err != nil {
			continue
		}
		status, err := driver.IsMounted(ctx, target.MountPath)
		if err != nil {
			return nil, err
		}
		n, err := r.store.ActiveJobCount(ctx, targetID, r.nodeID)
		if err != nil {
			return nil, err
		}

		state := TargetState{
			TargetID:   targetID,
			Name:       target.Name,
			Kind:       target.Kind,
			MountPath:  target.MountPath,
			ActiveJobs: n,
			IsMounted:  status.Mounted,
			Stale:      status.Stale(),
		}
		if r.registry != nil && target.Kind == models.TargetKindUserFS {
			if rec, ok := r.registry.LookupOrLoad(targetID); ok {
				state.Process = &ProcessState{
					PID:       rec.PID,
					StartedAt: rec.StartedAt,
					Adopted:   rec.AdoptedFromDisk,
				}
			}
		}
		report.Mounts = append(report.Mounts, state)

		switch {
		case n == 0 && status.Mounted:
			report.Inconsistencies = append(report.Inconsistencies, Inconsistency{
				TargetID:   targetID,
				Kind:       target.Kind,
				ActiveJobs: n,
				IsMounted:  status.Mounted,
				Issue:      IssueMountedWithoutJobs,
			})
		case n > 0 && !status.Healthy():
			report.Inconsistencies = append(report.Inconsistencies, Inconsistency{
				TargetID:   targetID,
				Kind:       target.Kind,
				ActiveJobs: n,
				IsMounted:  status.Mounted,
				Issue:      IssueJobsWithoutMount,
			})
		}
	}
	return report, nil
}
