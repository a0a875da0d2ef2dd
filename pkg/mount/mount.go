// Package mount implements the filesystem drivers that attach backup
// targets to the node.
//
// Two variants sit behind one contract: a network filesystem driver that
// shells out to mount(8) through a privilege helper, and a user-space
// filesystem driver that spawns a FUSE-style child per target and hands
// its lifetime to the process registry. Drivers are deliberately dumb:
// they report outcomes verbatim and never retry; ref-counting and retry
// policy live above them.
package mount

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/mountd/pkg/models"
)

const (
	// mountCommandTimeout bounds the mount(8) invocation.
	mountCommandTimeout = 30 * time.Second

	// umountCommandTimeout bounds plain and lazy umount(8) invocations.
	umountCommandTimeout = 10 * time.Second

	// umountForceTimeout bounds the last-resort force-lazy umount.
	umountForceTimeout = 5 * time.Second

	// accessProbeTimeout bounds the stat+readdir accessibility probe. A
	// probe that does not answer in time means the mount is stale.
	accessProbeTimeout = 2 * time.Second

	// spawnSettleDelay is how long a freshly spawned user-fs child gets
	// before the early-exit check.
	spawnSettleDelay = 500 * time.Millisecond

	// mountVerifyDelay is how long a user-fs child gets to bring its
	// mount up before verification.
	mountVerifyDelay = 2 * time.Second

	// unmountVerifyWindow bounds how long an unmount may take to vanish
	// from the kernel mount table.
	unmountVerifyWindow = time.Second

	// mountPointMode is the permission mode for created mount points.
	mountPointMode = 0755

	// defaultOutputBuffer is how much child output is kept when the
	// config does not say otherwise.
	defaultOutputBuffer = 4096
)

// Status is the two-bit answer to "is this path mounted": present in the
// kernel mount table, and answering a bounded stat+readdir probe.
type Status struct {
	Mounted    bool `json:"mounted"`
	Accessible bool `json:"accessible"`
}

// Healthy reports a mount that is present and responding.
func (s Status) Healthy() bool {
	return s.Mounted && s.Accessible
}

// Stale reports a mount table entry whose filesystem no longer answers.
func (s Status) Stale() bool {
	return s.Mounted && !s.Accessible
}

// Driver attaches and detaches one kind of backup target.
//
// Credentials are a flat key/value map; the network filesystem variant
// ignores them, the user-space variant turns them into the child's
// environment.
type Driver interface {
	Kind() models.TargetKind
	Mount(ctx context.Context, target *models.BackupTarget, credentials map[string]string) error
	Unmount(ctx context.Context, target *models.BackupTarget) error
	IsMounted(ctx context.Context, mountPath string) (Status, error)
	CleanupStale(ctx context.Context, mountPath string) error
}

// Drivers routes targets to the driver variant for their kind.
type Drivers struct {
	netfs  Driver
	userfs Driver
}

// NewDrivers bundles the two driver variants.
func NewDrivers(netfs, userfs Driver) *Drivers {
	return &Drivers{netfs: netfs, userfs: userfs}
}

// ForTarget returns the driver responsible for a target. A kind whose
// driver is not configured on this node is reported the same way as an
// unknown kind.
func (d *Drivers) ForTarget(target *models.BackupTarget) (Driver, error) {
	var driver Driver
	switch target.Kind {
	case models.TargetKindNetFS:
		driver = d.netfs
	case models.TargetKindUserFS:
		driver = d.userfs
	}
	if driver == nil {
		return nil, fmt.Errorf("no mount driver for target kind %q", target.Kind)
	}
	return driver, nil
}

// ForKind returns the driver for a raw kind value.
func (d *Drivers) ForKind(kind models.TargetKind) (Driver, error) {
	return d.ForTarget(&models.BackupTarget{Kind: kind})
}
