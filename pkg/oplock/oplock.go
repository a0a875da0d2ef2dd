// Package oplock serializes mount and unmount work across every process
// on a node.
//
// Mount decisions are made by counting ledger rows and comparing against
// the kernel mount table, so two operations interleaving between the count
// and the physical mount would race. A single flock-backed lock per node
// covers both operation kinds; whoever holds it owns the mount state of
// the node until release.
package oplock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DefaultTimeout bounds how long an operation waits for the node lock
	// before giving up.
	DefaultTimeout = 300 * time.Second

	// pollInterval is how often a blocked waiter retries the lock.
	pollInterval = 100 * time.Millisecond

	// lockFileName is fixed: every process on the node must resolve the
	// same path for the lock to serialize anything.
	lockFileName = "mountd_ops.lock"
)

// ErrLockTimeout is returned when the node lock could not be acquired
// within the serializer's timeout.
var ErrLockTimeout = errors.New("timed out waiting for mount operation lock")

// Serializer is the per-node cross-process mutex for mount operations.
// The zero value is not usable; construct with New.
type Serializer struct {
	path    string
	timeout time.Duration
}

// New creates a Serializer backed by a lock file under lockDir, creating
// the directory if needed. A non-positive timeout selects DefaultTimeout.
func New(lockDir string, timeout time.Duration) (*Serializer, error) {
	if lockDir == "" {
		return nil, fmt.Errorf("lock directory is required")
	}
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Serializer{
		path:    filepath.Join(lockDir, lockFileName),
		timeout: timeout,
	}, nil
}

// Path returns the lock file path.
func (s *Serializer) Path() string {
	return s.path
}

// Acquire takes the node lock, polling until it is free, the context is
// canceled, or the serializer timeout elapses. On success it returns a
// release function that must be called on every exit path; calling it more
// than once is harmless. On timeout the error wraps ErrLockTimeout.
func (s *Serializer) Acquire(ctx context.Context) (func(), error) {
	file, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", s.path, err)
	}

	deadline := time.Now().Add(s.timeout)
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			// Record the holder for post-mortem debugging. The flock is
			// the actual exclusion; the content is advisory.
			_ = file.Truncate(0)
			_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

			released := false
			return func() {
				if released {
					return
				}
				released = true
				_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
				_ = file.Close()
			}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			file.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", s.path, err)
		}

		if time.Now().After(deadline) {
			file.Close()
			return nil, fmt.Errorf("%w after %s", ErrLockTimeout, s.timeout)
		}

		select {
		case <-ctx.Done():
			file.Close()
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
