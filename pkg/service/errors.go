package service

import (
	"errors"
	"fmt"

	"github.com/marmos91/mountd/pkg/creds"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/marmos91/mountd/pkg/oplock"
	"github.com/marmos91/mountd/pkg/store"
)

// Kind classifies a failed mount operation. The kind decides what the
// caller does next: deterministic kinds are final and the caller must not
// redeliver, KindTransient permits a single redelivery, KindFatal means
// the daemon itself is misconfigured.
type Kind string

const (
	// KindBadRequest is a malformed or incomplete request. Retrying the
	// same request cannot succeed.
	KindBadRequest Kind = "bad_request"

	// KindTargetNotFound means the target is missing or soft-deleted.
	KindTargetNotFound Kind = "target_not_found"

	// KindAuthFailed means the caller's token was rejected, either by the
	// local verifier or by the secret store.
	KindAuthFailed Kind = "auth_failed"

	// KindCredentialFetchFailed means the secret store could not produce
	// the credentials: unreachable, errored, or the reference points at
	// nothing. Distinct from KindAuthFailed so callers can tell a bad
	// token from a broken store.
	KindCredentialFetchFailed Kind = "credential_fetch_failed"

	// KindMountFailed means the driver could not attach the filesystem.
	// The ledger entry created for the request was rolled back.
	KindMountFailed Kind = "mount_failed"

	// KindUnmountFailed means the driver could not detach the filesystem.
	// The soft-delete was rolled back, so the job still holds its claim.
	KindUnmountFailed Kind = "unmount_failed"

	// KindLockTimeout means the operation lock was not acquired in time.
	// Nothing was touched.
	KindLockTimeout Kind = "lock_timeout"

	// KindTimeout is synthesized by clients waiting on a reply. The node
	// side of the operation keeps running; this kind never originates
	// here.
	KindTimeout Kind = "timeout"

	// KindTransient covers failures that a single redelivery may clear:
	// database serialization conflicts, canceled contexts, broker hiccups.
	KindTransient Kind = "transient"

	// KindFatal marks configuration defects discovered at runtime, such as
	// an unroutable target kind. The daemon logs these at startup and
	// refuses to run where possible.
	KindFatal Kind = "fatal"
)

// Retryable reports whether a single redelivery of the request may
// succeed.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// OpError is the classified failure of one mount or unmount operation.
type OpError struct {
	Kind     Kind
	Op       string
	TargetID string
	JobID    uint64
	Err      error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s job=%d target=%s: %s", e.Op, e.JobID, e.TargetID, e.Kind)
	}
	return fmt.Sprintf("%s job=%d target=%s: %v", e.Op, e.JobID, e.TargetID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from an error. Unclassified errors
// report KindTransient, which limits their blast radius to one redelivery
// before the dispatcher turns them into a deterministic failure reply.
func KindOf(err error) Kind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindTransient
}

// classify wraps an unclassified error bubbling out of an operation,
// mapping the sentinels of the layers below onto the taxonomy.
func classify(op string, jobID uint64, targetID string, err error) *OpError {
	kind := KindTransient
	switch {
	case errors.Is(err, models.ErrTargetNotFound):
		kind = KindTargetNotFound
	case errors.Is(err, creds.ErrAuthFailed):
		kind = KindAuthFailed
	case errors.Is(err, creds.ErrCredentialNotFound), errors.Is(err, creds.ErrFetchFailed):
		kind = KindCredentialFetchFailed
	case errors.Is(err, creds.ErrInvalidToken), errors.Is(err, creds.ErrExpiredToken):
		kind = KindAuthFailed
	case errors.Is(err, oplock.ErrLockTimeout):
		kind = KindLockTimeout
	case store.IsSerializationError(err):
		kind = KindTransient
	}
	return &OpError{Kind: kind, Op: op, TargetID: targetID, JobID: jobID, Err: err}
}
