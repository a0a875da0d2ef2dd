package procs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/mountd/internal/logger"
)

const (
	// ReapInterval is how often the reaper sweeps the process table.
	ReapInterval = 5 * time.Second

	// DefaultTermWait is how long KillGroup waits between SIGTERM and
	// SIGKILL.
	DefaultTermWait = 10 * time.Second

	// killPollInterval is how often KillGroup re-checks for process exit.
	killPollInterval = 100 * time.Millisecond
)

// StartReaper sweeps the process table every ReapInterval until ctx is
// canceled, releasing records whose process has exited. It blocks and is
// meant to run in its own goroutine.
func (r *Registry) StartReaper(ctx context.Context) {
	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

// reapOnce releases every record whose process is gone.
func (r *Registry) reapOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for targetID, rec := range r.records {
		if reapDead(rec.PID) {
			logger.Info("user-fs process exited",
				"target_id", targetID,
				"pid", rec.PID,
				"mount_path", rec.MountPath,
				"adopted", rec.AdoptedFromDisk)
			r.releaseLocked(targetID)
		}
	}
}

// reapDead reports whether pid is gone. Direct children are collected with
// a non-blocking wait so they do not linger as zombies; adopted processes
// are not our children, so those fall back to a liveness probe.
func reapDead(pid int) bool {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	switch {
	case err == nil && wpid == pid:
		return ws.Exited() || ws.Signaled()
	case errors.Is(err, unix.ECHILD):
		return !pidAlive(pid)
	default:
		return false
	}
}

// pidAlive probes a process with signal 0. EPERM still means the process
// exists, just owned by someone else.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// Alive reports whether the tracked process for a target is still running.
func (r *Registry) Alive(targetID string) bool {
	rec, ok := r.Lookup(targetID)
	if !ok {
		return false
	}
	return pidAlive(rec.PID)
}

// KillGroup terminates the process group of a target's tracked process:
// SIGTERM first, then SIGKILL after termWait. The record and PID file are
// released once the process is gone. Unknown targets are a no-op.
func (r *Registry) KillGroup(ctx context.Context, targetID string, termWait time.Duration) error {
	rec, ok := r.Lookup(targetID)
	if !ok {
		return nil
	}
	if termWait <= 0 {
		termWait = DefaultTermWait
	}

	// Children are spawned with setsid, so pgid == pid and the negative
	// PID addresses the whole group.
	if err := unix.Kill(-rec.PID, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to signal process group %d: %w", rec.PID, err)
	}

	if r.waitGone(ctx, rec.PID, termWait) {
		return r.Release(targetID)
	}

	logger.Warn("user-fs process ignored SIGTERM, escalating",
		"target_id", targetID, "pid", rec.PID)
	if err := unix.Kill(-rec.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to kill process group %d: %w", rec.PID, err)
	}

	if !r.waitGone(ctx, rec.PID, termWait) {
		return fmt.Errorf("process %d survived SIGKILL", rec.PID)
	}
	return r.Release(targetID)
}

// waitGone polls until the process exits or the timeout elapses.
func (r *Registry) waitGone(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if reapDead(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(killPollInterval):
		}
	}
	return reapDead(pid)
}
