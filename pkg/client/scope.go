package client

import (
	"context"
	"fmt"

	"github.com/marmos91/mountd/internal/logger"
	"github.com/marmos91/mountd/pkg/broker"
)

// Requester is the request surface the scope helpers need. *Client
// satisfies it.
type Requester interface {
	Mount(ctx context.Context, jobID uint64, targetID, token string) (*broker.Reply, error)
	Unmount(ctx context.Context, jobID uint64, targetID string) (*broker.Reply, error)
}

// MountContext is one acquired claim on a target. Release returns the
// claim; releasing twice is a no-op. Not safe for concurrent use.
type MountContext struct {
	JobID     uint64
	TargetID  string
	MountPath string

	requester Requester
	released  bool
}

// Acquire mounts targetID for jobID and returns the claim. A reply with
// Success=false becomes an error here: callers of Acquire want a usable
// mount path or a reason.
func Acquire(ctx context.Context, r Requester, jobID uint64, targetID, token string) (*MountContext, error) {
	reply, err := r.Mount(ctx, jobID, targetID, token)
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		return nil, fmt.Errorf("mount %s for job %d: %s", targetID, jobID, reply.Message)
	}
	return &MountContext{
		JobID:     jobID,
		TargetID:  targetID,
		MountPath: reply.MountPath,
		requester: r,
	}, nil
}

// Release returns the claim. Idempotent: after the first success further
// calls do nothing.
func (m *MountContext) Release(ctx context.Context) error {
	if m.released {
		return nil
	}
	reply, err := m.requester.Unmount(ctx, m.JobID, m.TargetID)
	if err != nil {
		return err
	}
	if !reply.Success {
		return fmt.Errorf("unmount %s for job %d: %s", m.TargetID, m.JobID, reply.Message)
	}
	m.released = true
	return nil
}

// WithMount mounts the target, runs fn with the mount path, and releases
// the claim afterwards no matter how fn fared. When fn fails, its error
// wins and a release failure is only logged; when fn succeeds, a release
// failure is reported, because the job's claim is still pinning the mount.
func WithMount(ctx context.Context, r Requester, jobID uint64, targetID, token string, fn func(ctx context.Context, mountPath string) error) error {
	mc, err := Acquire(ctx, r, jobID, targetID, token)
	if err != nil {
		return err
	}

	fnErr := fn(ctx, mc.MountPath)
	relErr := mc.Release(ctx)

	if fnErr != nil {
		if relErr != nil {
			logger.Warn("release failed after callback error",
				"job_id", jobID,
				"target_id", targetID,
				"error", relErr)
		}
		return fnErr
	}
	return relErr
}

// MountAll acquires every target in order. On any failure the targets
// already acquired are released in reverse order and the failure is
// returned.
func MountAll(ctx context.Context, r Requester, jobID uint64, targetIDs []string, token string) ([]*MountContext, error) {
	mounts := make([]*MountContext, 0, len(targetIDs))
	for _, targetID := range targetIDs {
		mc, err := Acquire(ctx, r, jobID, targetID, token)
		if err != nil {
			ReleaseAll(ctx, mounts)
			return nil, err
		}
		mounts = append(mounts, mc)
	}
	return mounts, nil
}

// ReleaseAll releases claims in reverse acquisition order, continuing past
// failures. The first failure is returned.
func ReleaseAll(ctx context.Context, mounts []*MountContext) error {
	var firstErr error
	for i := len(mounts) - 1; i >= 0; i-- {
		if err := mounts[i].Release(ctx); err != nil {
			logger.Warn("release failed",
				"job_id", mounts[i].JobID,
				"target_id", mounts[i].TargetID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
