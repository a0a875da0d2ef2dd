package mount

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/mountd/internal/bytesize"
	"github.com/marmos91/mountd/internal/logger"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/marmos91/mountd/pkg/procs"
)

// credentialEnvMap maps credential keys to the environment names the
// user-fs binary expects. Keys not listed pass through under their own
// name, so operators can feed custom knobs without a daemon release.
var credentialEnvMap = map[string]string{
	"access_key": "AWS_ACCESS_KEY_ID",
	"secret_key": "AWS_SECRET_ACCESS_KEY",

	"vault_s3_bucket":               "vault_s3_bucket",
	"vault_s3_region_name":          "vault_s3_region_name",
	"vault_s3_auth_version":         "vault_s3_auth_version",
	"vault_s3_signature_version":    "vault_s3_signature_version",
	"vault_s3_ssl":                  "vault_s3_ssl",
	"vault_s3_ssl_verify":           "vault_s3_ssl_verify",
	"vault_s3_ssl_cert":             "vault_s3_ssl_cert",
	"vault_s3_endpoint_url":         "vault_s3_endpoint_url",
	"vault_s3_max_pool_connections": "vault_s3_max_pool_connections",
	"vault_storage_nfs_export":      "vault_storage_nfs_export",
	"bucket_object_lock":            "bucket_object_lock",
	"use_manifest_suffix":           "use_manifest_suffix",
	"vault_data_directory_old":      "vault_data_directory_old",
	"vault_data_directory":          "vault_data_directory",
	"log_config_append":             "log_config_append",
}

// UserFSConfig configures the user-space filesystem driver.
type UserFSConfig struct {
	// Binary is the user-fs executable spawned per target.
	Binary string

	// LogConfig is the default log configuration path handed to children
	// that do not get one through credentials.
	LogConfig string

	// TermWait is how long a child gets between SIGTERM and SIGKILL.
	// Default: 10s.
	TermWait time.Duration

	// OutputBuffer is how much of a child's most recent output is kept
	// for error reporting. Default: 4KiB.
	OutputBuffer bytesize.ByteSize

	// RootwrapPath and RootwrapConf select the privilege helper for the
	// umount fallbacks. fusermount itself runs unwrapped.
	RootwrapPath string
	RootwrapConf string
}

// UserFSDriver mounts object-storage backup targets by spawning one
// user-space filesystem child per target. Children live in their own
// session so they survive daemon restarts; the process registry tracks
// them across both lifetimes.
type UserFSDriver struct {
	binary    string
	logConfig string
	termWait  time.Duration
	helper    helper
	run       Runner
	registry  *procs.Registry

	// probe and spawn are replaceable in tests, as are the startup wait
	// windows.
	probe       func(ctx context.Context, path string) (Status, error)
	spawn       func(binary, mountPath string, env []string) (*child, error)
	settleDelay time.Duration
	verifyDelay time.Duration
}

// NewUserFSDriver creates the user-space filesystem driver.
func NewUserFSDriver(cfg UserFSConfig, registry *procs.Registry) *UserFSDriver {
	termWait := cfg.TermWait
	if termWait <= 0 {
		termWait = procs.DefaultTermWait
	}
	outputCap := int(cfg.OutputBuffer)
	if outputCap <= 0 {
		outputCap = defaultOutputBuffer
	}
	return &UserFSDriver{
		binary:    cfg.Binary,
		logConfig: cfg.LogConfig,
		termWait:  termWait,
		helper:    helper{rootwrapPath: cfg.RootwrapPath, rootwrapConf: cfg.RootwrapConf},
		run:       NewRunner(),
		registry:  registry,
		probe:     probeStatus,
		spawn: func(binary, mountPath string, env []string) (*child, error) {
			return startChild(binary, mountPath, env, outputCap)
		},
		settleDelay: spawnSettleDelay,
		verifyDelay: mountVerifyDelay,
	}
}

// Kind returns the target kind this driver serves.
func (d *UserFSDriver) Kind() models.TargetKind {
	return models.TargetKindUserFS
}

// IsMounted reports the two-bit mount status of a path.
func (d *UserFSDriver) IsMounted(ctx context.Context, mountPath string) (Status, error) {
	return d.probe(ctx, mountPath)
}

// Mount spawns the user-fs child for target and waits for its mount to
// come up. Credentials become the child's environment; the target's mount
// path always wins over any data directory the credentials carry.
func (d *UserFSDriver) Mount(ctx context.Context, target *models.BackupTarget, credentials map[string]string) error {
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

	env := buildEnv(credentials, mountPath, d.logConfig)
	c, err := d.spawn(d.binary, mountPath, env)
	if err != nil {
		return fmt.Errorf("failed to spawn %s: %w", d.binary, err)
	}
	logger.InfoCtx(ctx, "spawned user-fs process",
		"binary", d.binary, "mount_path", mountPath, "pid", c.pid)

	// Early-exit check: a child that dies this fast never mounted.
	select {
	case err := <-c.exited:
		return fmt.Errorf("user-fs process exited immediately (%s): %s",
			exitReason(err), c.output.String())
	case <-ctx.Done():
		_ = unix.Kill(-c.pid, unix.SIGKILL)
		return ctx.Err()
	case <-time.After(d.settleDelay):
	}

	// Track before verification so even a crash mid-verify leaves a PID
	// file behind for cleanup.
	err = d.registry.Register(procs.Record{
		TargetID:  target.ID,
		PID:       c.pid,
		MountPath: mountPath,
		Binary:    d.binary,
	})
	if err != nil {
		_ = unix.Kill(-c.pid, unix.SIGKILL)
		return fmt.Errorf("failed to track user-fs process: %w", err)
	}

	select {
	case err := <-c.exited:
		_ = d.registry.Release(target.ID)
		return fmt.Errorf("user-fs process died during startup (%s): %s",
			exitReason(err), c.output.String())
	case <-ctx.Done():
		_ = d.registry.KillGroup(context.Background(), target.ID, time.Second)
		return ctx.Err()
	case <-time.After(d.verifyDelay):
	}

	status, err = d.probe(ctx, mountPath)
	if err != nil || !status.Healthy() {
		_ = d.registry.KillGroup(ctx, target.ID, d.termWait)
		_ = d.registry.Release(target.ID)
		return fmt.Errorf("user-fs process running but %s is not a healthy mount: %s",
			mountPath, c.output.String())
	}

	logger.InfoCtx(ctx, "mounted user-space filesystem",
		"mount_path", mountPath, "pid", c.pid)
	return nil
}

// Unmount tears down the child serving target and verifies the mount
// leaves the kernel table. The PID file and in-memory record are removed
// on every path.
func (d *UserFSDriver) Unmount(ctx context.Context, target *models.BackupTarget) error {
	mountPath := target.MountPath

	rec, hasProc := d.registry.LookupOrLoad(target.ID)
	status, err := d.probe(ctx, mountPath)
	if err != nil {
		return fmt.Errorf("failed to check mount state of %s: %w", mountPath, err)
	}

	if !status.Mounted && !hasProc {
		logger.InfoCtx(ctx, "no mount and no tracked process, nothing to unmount",
			"mount_path", mountPath)
		return nil
	}

	if hasProc {
		logger.InfoCtx(ctx, "terminating user-fs process",
			"pid", rec.PID, "mount_path", mountPath)
		if err := d.registry.KillGroup(ctx, target.ID, d.termWait); err != nil {
			_ = d.registry.Release(target.ID)
			return fmt.Errorf("failed to stop user-fs process for %s: %w", target.ID, err)
		}
	} else {
		// Mounted with no tracked child: the kernel still holds a fuse
		// connection from a previous life. Detach it directly.
		logger.WarnCtx(ctx, "mount without tracked process, detaching via fusermount",
			"mount_path", mountPath)
		if _, err := d.run.Run(ctx, umountCommandTimeout, "fusermount", "-u", mountPath); err != nil {
			return fmt.Errorf("failed to unmount %s: %w", mountPath, err)
		}
	}
	_ = d.registry.Release(target.ID)

	if !waitUnmounted(ctx, mountPath, unmountVerifyWindow) {
		return fmt.Errorf("%s still present in mount table after unmount", mountPath)
	}

	logger.InfoCtx(ctx, "unmounted user-space filesystem", "mount_path", mountPath)
	return nil
}

// CleanupStale kills whatever child is attached to mountPath and detaches
// the dead fuse connection, escalating from fusermount -uz to force-lazy
// umount.
func (d *UserFSDriver) CleanupStale(ctx context.Context, mountPath string) error {
	logger.InfoCtx(ctx, "cleaning up stale user-fs mount", "mount_path", mountPath)

	if rec, ok := d.registry.FindByMountPath(mountPath); ok {
		logger.WarnCtx(ctx, "killing child of stale mount",
			"target_id", rec.TargetID, "pid", rec.PID)
		if err := d.registry.KillGroup(ctx, rec.TargetID, time.Second); err != nil {
			logger.WarnCtx(ctx, "failed to kill stale child", "error", err)
		}
	}

	_, err := d.run.Run(ctx, umountCommandTimeout, "fusermount", "-u", "-z", mountPath)
	if err == nil {
		return nil
	}
	logger.WarnCtx(ctx, "fusermount failed, falling back to umount",
		"mount_path", mountPath, "error", err)

	name, args := d.helper.wrap("umount", "-l", mountPath)
	_, err = d.run.Run(ctx, umountCommandTimeout, name, args...)
	if err == nil {
		return nil
	}

	name, args = d.helper.wrap("umount", "-f", "-l", mountPath)
	if _, err := d.run.Run(ctx, umountCommandTimeout, name, args...); err != nil {
		return fmt.Errorf("failed to clean up stale mount %s: %w", mountPath, err)
	}
	return nil
}

// child is a spawned user-fs process.
type child struct {
	pid    int
	exited <-chan error
	output *tailBuffer
}

// startChild launches the user-fs binary detached in its own session with
// stdin closed and output captured. argv is fixed: the binary and the
// mount point; everything else travels through the environment.
func startChild(binary, mountPath string, env []string, outputCap int) (*child, error) {
	tail := newTailBuffer(outputCap)

	cmd := exec.Command(binary, mountPath)
	cmd.Env = env
	cmd.Stdout = tail
	cmd.Stderr = tail
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	exited := make(chan error, 1)
	go func() {
		// The registry reaper may collect the child first; Wait then
		// reports ECHILD, which still signals exit correctly.
		exited <- cmd.Wait()
	}()

	return &child{pid: cmd.Process.Pid, exited: exited, output: tail}, nil
}

// exitReason renders a child exit for error messages.
func exitReason(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// mapCredentials translates credential keys into the child's environment
// names, dropping empty values. The caller's mount path always overrides
// any data directory the credentials carry, keeping the ledger and the
// child in agreement about where the target lives.
func mapCredentials(credentials map[string]string, mountPath, logConfig string) map[string]string {
	env := make(map[string]string, len(credentials)+2)
	for key, value := range credentials {
		if strings.TrimSpace(value) == "" {
			continue
		}
		name, ok := credentialEnvMap[key]
		if !ok {
			name = key
		}
		env[name] = value
	}

	if prev, ok := env["vault_data_directory"]; ok && prev != mountPath {
		logger.Warn("credentials disagree with target mount path, using target",
			"credential_path", prev, "mount_path", mountPath)
	}
	env["vault_data_directory"] = mountPath

	if env["log_config_append"] == "" && logConfig != "" {
		env["log_config_append"] = logConfig
	}
	return env
}

// buildEnv merges the mapped credentials over the daemon's environment.
// Duplicate names are collapsed so the child's getenv cannot pick a stale
// value.
func buildEnv(credentials map[string]string, mountPath, logConfig string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range mapCredentials(credentials, mountPath, logConfig) {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}
