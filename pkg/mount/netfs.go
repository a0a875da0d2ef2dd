package mount

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/mountd/internal/logger"
	"github.com/marmos91/mountd/pkg/models"
)

// NetFSConfig configures the network filesystem driver.
type NetFSConfig struct {
	// FSType is the filesystem type passed to mount -t. Default: nfs.
	FSType string

	// RootwrapPath and RootwrapConf select the privilege helper. Empty
	// RootwrapPath means the daemon itself is privileged and mount(8) is
	// executed directly.
	RootwrapPath string
	RootwrapConf string
}

// NetFSDriver mounts network filesystem exports (NFS and friends) by
// shelling out to the system mount tools.
type NetFSDriver struct {
	fstype string
	helper helper
	run    Runner

	// probe is the mount status check, replaceable in tests.
	probe func(ctx context.Context, path string) (Status, error)
}

// NewNetFSDriver creates the network filesystem driver.
func NewNetFSDriver(cfg NetFSConfig) *NetFSDriver {
	fstype := cfg.FSType
	if fstype == "" {
		fstype = "nfs"
	}
	return &NetFSDriver{
		fstype: fstype,
		helper: helper{rootwrapPath: cfg.RootwrapPath, rootwrapConf: cfg.RootwrapConf},
		run:    NewRunner(),
		probe:  probeStatus,
	}
}

// Kind returns the target kind this driver serves.
func (d *NetFSDriver) Kind() models.TargetKind {
	return models.TargetKindNetFS
}

// IsMounted reports the two-bit mount status of a path.
func (d *NetFSDriver) IsMounted(ctx context.Context, mountPath string) (Status, error) {
	return d.probe(ctx, mountPath)
}

// Mount attaches target.Export at target.MountPath. Mounting an already
// healthy path succeeds without touching the kernel; a stale entry is
// cleaned up first.
func (d *NetFSDriver) Mount(ctx context.Context, target *models.BackupTarget, _ map[string]string) error {
	mountPath := target.MountPath

	if err := os.MkdirAll(mountPath, mountPointMode); err != nil {
		return fmt.Errorf("failed to create mount point %s: %w", mountPath, err)
	}

	status, err := d.probe(ctx, mountPath)
	if err != nil {
		return fmt.Errorf("failed to check mount state of %s: %w", mountPath, err)
	}
	if status.Healthy() {
		logger.InfoCtx(ctx, "already mounted and accessible", "mount_path", mountPath)
		return nil
	}
	if status.Stale() {
		logger.WarnCtx(ctx, "stale mount detected, cleaning up before mounting",
			"mount_path", mountPath)
		if err := d.CleanupStale(ctx, mountPath); err != nil {
			return fmt.Errorf("stale mount at %s could not be cleaned: %w", mountPath, err)
		}
	}

	name, args := d.helper.wrap("mount", "-t", d.fstype,
		"-o", target.EffectiveMountOptions(), target.Export, mountPath)
	if _, err := d.run.Run(ctx, mountCommandTimeout, name, args...); err != nil {
		return fmt.Errorf("failed to mount %s at %s: %w", target.Export, mountPath, err)
	}

	status, err = d.probe(ctx, mountPath)
	if err != nil {
		return fmt.Errorf("failed to verify mount of %s: %w", mountPath, err)
	}
	if !status.Healthy() {
		return fmt.Errorf("mount command succeeded but %s is not a healthy mount", mountPath)
	}

	logger.InfoCtx(ctx, "mounted network filesystem",
		"export", target.Export, "mount_path", mountPath, "options", target.EffectiveMountOptions())
	return nil
}

// Unmount detaches target.MountPath, escalating from a plain umount to a
// lazy and finally a force-lazy one. An unmounted path succeeds.
func (d *NetFSDriver) Unmount(ctx context.Context, target *models.BackupTarget) error {
	mountPath := target.MountPath

	status, err := d.probe(ctx, mountPath)
	if err != nil {
		return fmt.Errorf("failed to check mount state of %s: %w", mountPath, err)
	}
	if !status.Mounted {
		logger.InfoCtx(ctx, "path is not mounted, nothing to unmount", "mount_path", mountPath)
		return nil
	}

	name, args := d.helper.wrap("umount", mountPath)
	_, err = d.run.Run(ctx, umountCommandTimeout, name, args...)
	if err == nil {
		logger.InfoCtx(ctx, "unmounted", "mount_path", mountPath)
		d.removeMountPoint(ctx, mountPath)
		return nil
	}
	logger.WarnCtx(ctx, "plain unmount failed, trying lazy",
		"mount_path", mountPath, "error", err)

	name, args = d.helper.wrap("umount", "-l", mountPath)
	_, err = d.run.Run(ctx, umountCommandTimeout, name, args...)
	if err == nil {
		logger.InfoCtx(ctx, "lazy unmounted", "mount_path", mountPath)
		d.removeMountPoint(ctx, mountPath)
		return nil
	}
	logger.WarnCtx(ctx, "lazy unmount failed, trying force-lazy",
		"mount_path", mountPath, "error", err)

	name, args = d.helper.wrap("umount", "-f", "-l", mountPath)
	if _, err := d.run.Run(ctx, umountForceTimeout, name, args...); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", mountPath, err)
	}
	logger.InfoCtx(ctx, "force-lazy unmounted", "mount_path", mountPath)
	d.removeMountPoint(ctx, mountPath)
	return nil
}

// removeMountPoint deletes the now-empty mount point directory. Best
// effort: after a lazy unmount the path may still be pinned by an open
// file handle, and a leftover directory is harmless.
func (d *NetFSDriver) removeMountPoint(ctx context.Context, mountPath string) {
	if err := os.Remove(mountPath); err != nil && !os.IsNotExist(err) {
		logger.WarnCtx(ctx, "could not remove mount point directory",
			"mount_path", mountPath, "error", err)
	}
}

// CleanupStale detaches a mount whose filesystem stopped answering: lazy
// unmount first, force-lazy as the fallback.
func (d *NetFSDriver) CleanupStale(ctx context.Context, mountPath string) error {
	logger.InfoCtx(ctx, "cleaning up stale mount", "mount_path", mountPath)

	name, args := d.helper.wrap("umount", "-l", mountPath)
	_, err := d.run.Run(ctx, umountCommandTimeout, name, args...)
	if err == nil {
		return nil
	}
	logger.WarnCtx(ctx, "lazy unmount of stale mount failed, forcing",
		"mount_path", mountPath, "error", err)

	name, args = d.helper.wrap("umount", "-f", "-l", mountPath)
	if _, err := d.run.Run(ctx, umountCommandTimeout, name, args...); err != nil {
		return fmt.Errorf("failed to clean up stale mount %s: %w", mountPath, err)
	}
	return nil
}
