// Package service implements the mount state machine and the reconciler
// that repairs it.
//
// The ledger is the refcount: mounting inserts a claim row and counts
// active jobs, unmounting soft-deletes the row and counts again. The
// first active job triggers the physical mount and the last one leaving
// triggers the physical unmount; everyone in between shares. Both
// operations run under the per-node operation lock and inside a single
// database transaction, so a driver failure unwinds the ledger change
// that announced it.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/mountd/internal/logger"
	"github.com/marmos91/mountd/internal/telemetry"
	"github.com/marmos91/mountd/pkg/creds"
	"github.com/marmos91/mountd/pkg/metrics"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/marmos91/mountd/pkg/mount"
	"github.com/marmos91/mountd/pkg/oplock"
	"github.com/marmos91/mountd/pkg/store"
)

// MountResult reports the outcome of a successful mount operation.
type MountResult struct {
	// MountPath is where the target's filesystem is attached.
	MountPath string `json:"mount_path"`

	// ReusedExisting is set when this job already held a claim and the
	// request changed nothing.
	ReusedExisting bool `json:"reused_existing"`

	// PhysicallyMounted is set when this request performed the actual
	// filesystem attach, as opposed to sharing one already present.
	PhysicallyMounted bool `json:"physically_mounted"`
}

// UnmountResult reports the outcome of a successful unmount operation.
type UnmountResult struct {
	// MountPath is where the target was attached, when known.
	MountPath string `json:"mount_path,omitempty"`

	// PhysicallyUnmounted is set when this request detached the
	// filesystem because no active job remained.
	PhysicallyUnmounted bool `json:"physically_unmounted"`

	// Remaining is the number of active jobs still holding the target on
	// this node after the request.
	Remaining int64 `json:"active_mounts_remaining"`

	// NoActiveMount is set when the job had no claim to release. The
	// operation is idempotent, so this is still a success.
	NoActiveMount bool `json:"no_active_mount,omitempty"`
}

// Options configures a MountService.
type Options struct {
	Store    *store.Store
	Drivers  *mount.Drivers
	Verifier creds.TokenVerifier

	// Source fetches user-fs credentials. Nodes that only serve network
	// filesystem targets may leave it nil.
	Source creds.Source

	Lock   *oplock.Serializer
	NodeID string

	// Metrics records lock waits and physical mount events. Nil disables
	// instrumentation.
	Metrics *metrics.OpsMetrics
}

// MountService executes mount and unmount requests for one node.
// Failures are classified (see OpError) and never retried here; retry
// policy belongs to the dispatcher and to the jobs themselves.
type MountService struct {
	store    *store.Store
	drivers  *mount.Drivers
	verifier creds.TokenVerifier
	source   creds.Source
	lock     *oplock.Serializer
	nodeID   string
	metrics  *metrics.OpsMetrics
}

// New creates a MountService.
func New(opts Options) (*MountService, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("service: store is required")
	case opts.Drivers == nil:
		return nil, errors.New("service: mount drivers are required")
	case opts.Verifier == nil:
		return nil, errors.New("service: token verifier is required")
	case opts.Lock == nil:
		return nil, errors.New("service: operation lock is required")
	case opts.NodeID == "":
		return nil, errors.New("service: node id is required")
	}
	return &MountService{
		store:    opts.Store,
		drivers:  opts.Drivers,
		verifier: opts.Verifier,
		source:   opts.Source,
		lock:     opts.Lock,
		nodeID:   opts.NodeID,
		metrics:  opts.Metrics,
	}, nil
}

// NodeID returns the node this service mounts for.
func (s *MountService) NodeID() string {
	return s.nodeID
}

// Mount records that a job uses a target on this node and attaches the
// filesystem if it is the first active user.
func (s *MountService) Mount(ctx context.Context, jobID uint64, targetID, token string) (*MountResult, error) {
	const op = "mount"
	if targetID == "" {
		return nil, &OpError{Kind: KindBadRequest, Op: op, JobID: jobID,
			Err: errors.New("target id is required")}
	}

	release, err := s.acquireLock(ctx, op, jobID, targetID)
	if err != nil {
		return nil, err
	}
	defer release()

	target, err := s.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, classify(op, jobID, targetID, err)
	}
	if target.Status != models.TargetStatusAvailable {
		logger.WarnCtx(ctx, "mounting target not marked available",
			"target_id", targetID, "status", target.Status)
	}

	if err := s.verifier.Verify(ctx, token); err != nil {
		return nil, &OpError{Kind: KindAuthFailed, Op: op, TargetID: targetID, JobID: jobID, Err: err}
	}

	driver, err := s.drivers.ForTarget(target)
	if err != nil {
		return nil, &OpError{Kind: KindFatal, Op: op, TargetID: targetID, JobID: jobID, Err: err}
	}

	result := &MountResult{MountPath: target.MountPath}
	txErr := s.store.Transaction(ctx, func(tx *store.Store) error {
		_, err := tx.FindActiveEntry(ctx, jobID, targetID, s.nodeID)
		if err == nil {
			result.ReusedExisting = true
			return nil
		}
		if !errors.Is(err, models.ErrLedgerEntryNotFound) {
			return err
		}

		entry := &models.MountLedgerEntry{TargetID: targetID, JobID: jobID, NodeID: s.nodeID}
		if _, err := tx.CreateEntry(ctx, entry); err != nil {
			return err
		}

		// The count includes the row just inserted when the job is active,
		// so the first user sees 1 and everyone after sees more.
		n, err := tx.ActiveJobCount(ctx, targetID, s.nodeID)
		if err != nil {
			return err
		}

		switch {
		case n == 0:
			// The requesting job is not in an active state. Keep the claim
			// but leave the filesystem alone; the reconciler settles
			// whatever this turns into.
			logger.WarnCtx(ctx, "mount requested by job not in active state",
				"job_id", jobID, "target_id", targetID)
			return nil

		case n == 1:
			status, err := driver.IsMounted(ctx, target.MountPath)
			if err != nil {
				return err
			}
			if status.Healthy() {
				// Already attached, e.g. adopted across a daemon restart.
				telemetry.AddEvent(ctx, "mount.adopted_existing")
				return tx.SetEntryMounted(ctx, entry.ID, true)
			}
			if err := s.physicalMount(ctx, op, jobID, target, driver, token); err != nil {
				return err
			}
			if _, err := tx.SetMountedFlag(ctx, targetID, s.nodeID, true, false); err != nil {
				return err
			}
			result.PhysicallyMounted = true
			return nil

		default:
			return tx.SetEntryMounted(ctx, entry.ID, true)
		}
	})
	if txErr != nil {
		return nil, wrapOpError(op, jobID, targetID, txErr)
	}
	if result.PhysicallyMounted {
		s.metrics.RecordPhysicalMount(string(target.Kind))
	}

	logger.InfoCtx(ctx, "mount ready",
		"job_id", jobID,
		"target_id", targetID,
		"mount_path", result.MountPath,
		"reused_existing", result.ReusedExisting,
		"physically_mounted", result.PhysicallyMounted)
	return result, nil
}

// acquireLock takes the node operation lock, recording how long the wait
// took.
func (s *MountService) acquireLock(ctx context.Context, op string, jobID uint64, targetID string) (func(), error) {
	start := time.Now()
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, classify(op, jobID, targetID, err)
	}
	s.metrics.RecordLockWait(time.Since(start))
	return release, nil
}

// physicalMount attaches the target's filesystem, fetching user-fs
// credentials first. It runs inside the mount transaction: any error here
// rolls back the ledger entry that announced the mount.
func (s *MountService) physicalMount(ctx context.Context, op string, jobID uint64, target *models.BackupTarget, driver mount.Driver, token string) error {
	var credentials creds.Credentials
	if target.Kind == models.TargetKindUserFS {
		if target.CredentialRef == "" {
			return &OpError{Kind: KindBadRequest, Op: op, TargetID: target.ID, JobID: jobID,
				Err: errors.New("target has no credential reference")}
		}
		if s.source == nil {
			return &OpError{Kind: KindCredentialFetchFailed, Op: op, TargetID: target.ID, JobID: jobID,
				Err: errors.New("no credential source configured on this node")}
		}
		var err error
		credentials, err = s.fetchCredentials(ctx, target.CredentialRef, token)
		if err != nil {
			return classify(op, jobID, target.ID, err)
		}
	}

	mountCtx, span := telemetry.StartDriverSpan(ctx, "mount", string(target.Kind), target.MountPath)
	err := driver.Mount(mountCtx, target, credentials)
	if err != nil {
		telemetry.RecordError(mountCtx, err)
	}
	span.End()
	if err != nil {
		return &OpError{Kind: KindMountFailed, Op: op, TargetID: target.ID, JobID: jobID, Err: err}
	}
	return nil
}

// fetchCredentials retrieves the payload behind a credential reference
// under its own span.
func (s *MountService) fetchCredentials(ctx context.Context, credentialRef, token string) (creds.Credentials, error) {
	fetchCtx, span := telemetry.StartSpan(ctx, telemetry.SpanCredsFetch)
	defer span.End()
	telemetry.SetAttributes(fetchCtx, telemetry.CredentialRef(credentialRef))

	credentials, err := s.source.Fetch(fetchCtx, credentialRef, token)
	if err != nil {
		telemetry.RecordError(fetchCtx, err)
		return nil, err
	}
	return credentials, nil
}

// Unmount releases a job's claim on a target and detaches the filesystem
// if it was the last active user. Releasing a claim that does not exist
// succeeds.
func (s *MountService) Unmount(ctx context.Context, jobID uint64, targetID string) (*UnmountResult, error) {
	const op = "unmount"
	if targetID == "" {
		return nil, &OpError{Kind: KindBadRequest, Op: op, JobID: jobID,
			Err: errors.New("target id is required")}
	}

	release, err := s.acquireLock(ctx, op, jobID, targetID)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &UnmountResult{}
	var kind models.TargetKind
	txErr := s.store.Transaction(ctx, func(tx *store.Store) error {
		entry, err := tx.FindActiveEntry(ctx, jobID, targetID, s.nodeID)
		if errors.Is(err, models.ErrLedgerEntryNotFound) {
			result.NoActiveMount = true
			n, err := tx.ActiveJobCount(ctx, targetID, s.nodeID)
			if err != nil {
				return err
			}
			result.Remaining = n
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.SoftDeleteEntry(ctx, entry.ID); err != nil {
			return err
		}
		n, err := tx.ActiveJobCount(ctx, targetID, s.nodeID)
		if err != nil {
			return err
		}
		result.Remaining = n
		if n > 0 {
			return nil
		}

		// Last active user gone. Tear down if the path is actually
		// attached; the target row is consulted even when soft-deleted
		// because the mount outlives the registration.
		target, err := tx.GetTargetIncludingDeleted(ctx, targetID)
		if errors.Is(err, models.ErrTargetNotFound) {
			logger.WarnCtx(ctx, "target row gone, skipping physical unmount",
				"target_id", targetID, "job_id", jobID)
			return nil
		}
		if err != nil {
			return err
		}
		result.MountPath = target.MountPath
		kind = target.Kind

		driver, err := s.drivers.ForTarget(target)
		if err != nil {
			return &OpError{Kind: KindFatal, Op: op, TargetID: targetID, JobID: jobID, Err: err}
		}
		status, err := driver.IsMounted(ctx, target.MountPath)
		if err != nil {
			return err
		}
		if !status.Mounted {
			return nil
		}

		unmountCtx, span := telemetry.StartDriverSpan(ctx, "unmount", string(target.Kind), target.MountPath)
		err = driver.Unmount(unmountCtx, target)
		if err != nil {
			telemetry.RecordError(unmountCtx, err)
		}
		span.End()
		if err != nil {
			return &OpError{Kind: KindUnmountFailed, Op: op, TargetID: targetID, JobID: jobID, Err: err}
		}
		if _, err := tx.SetMountedFlag(ctx, targetID, s.nodeID, false, true); err != nil {
			return err
		}
		result.PhysicallyUnmounted = true
		return nil
	})
	if txErr != nil {
		return nil, wrapOpError(op, jobID, targetID, txErr)
	}
	if result.PhysicallyUnmounted {
		s.metrics.RecordPhysicalUnmount(string(kind))
	}

	logger.InfoCtx(ctx, "unmount processed",
		"job_id", jobID,
		"target_id", targetID,
		"physically_unmounted", result.PhysicallyUnmounted,
		"active_mounts_remaining", result.Remaining,
		"no_active_mount", result.NoActiveMount)
	return result, nil
}

// wrapOpError surfaces an already classified error as-is and classifies
// anything else.
func wrapOpError(op string, jobID uint64, targetID string, err error) error {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	return classify(op, jobID, targetID, err)
}
