package procs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/marmos91/mountd/internal/logger"
)

// TargetResolver maps a mount path observed on a live process back to the
// backup target it serves. The mount path is the join key between the
// process table and the ledger.
type TargetResolver func(ctx context.Context, mountPath string) (targetID string, err error)

// Adopt scans the PID directory and rebuilds in-memory records for
// user-space filesystem processes that survived a daemon restart.
//
// For every *.pid file: parse the PID, look the process up, and verify its
// command line actually runs binary. Matching processes are adopted with
// AdoptedFromDisk set; files for dead or unrelated processes are removed
// so they cannot shadow a later mount. Returns the adopted records.
func (r *Registry) Adopt(ctx context.Context, binary string, resolve TargetResolver) []Record {
	pattern := filepath.Join(r.pidDir, "*.pid")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		logger.Warn("pid directory scan failed", "pattern", pattern, "error", err)
		return nil
	}

	var adopted []Record
	for _, path := range matches {
		targetID := strings.TrimSuffix(filepath.Base(path), ".pid")

		pid, err := readPIDFile(path)
		if err != nil {
			logger.Warn("removing malformed pid file", "pid_file", path, "error", err)
			_ = os.Remove(path)
			continue
		}

		args, alive := cmdline(ctx, pid)
		if !alive {
			logger.Info("removing pid file for dead process",
				"target_id", targetID, "pid", pid, "pid_file", path)
			_ = os.Remove(path)
			continue
		}
		if !matchesBinary(args, binary) {
			logger.Warn("pid file points at a foreign process, removing",
				"target_id", targetID, "pid", pid, "cmdline", strings.Join(args, " "))
			_ = os.Remove(path)
			continue
		}

		mountPath := firstAbsoluteArg(args)
		if resolve != nil {
			resolvedID, err := resolve(ctx, mountPath)
			switch {
			case err != nil:
				logger.Warn("adopting process without a matching target",
					"target_id", targetID, "pid", pid, "mount_path", mountPath, "error", err)
			case resolvedID != targetID:
				logger.Warn("pid file name disagrees with mount path owner, trusting mount path",
					"pid_file_target", targetID, "resolved_target", resolvedID, "mount_path", mountPath)
				targetID = resolvedID
			}
		}

		rec := Record{
			TargetID:        targetID,
			PID:             pid,
			MountPath:       mountPath,
			Binary:          binary,
			StartedAt:       time.Now(),
			AdoptedFromDisk: true,
		}

		r.mu.Lock()
		r.records[targetID] = &rec
		r.mu.Unlock()

		logger.Info("adopted surviving user-fs process",
			"target_id", targetID, "pid", pid, "mount_path", mountPath)
		adopted = append(adopted, rec)
	}
	return adopted
}

// cmdline returns the argv of a live process, or alive=false when the
// process is gone or unreadable.
func cmdline(ctx context.Context, pid int) (args []string, alive bool) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, false
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return nil, false
	}
	args, err = p.CmdlineSliceWithContext(ctx)
	if err != nil || len(args) == 0 {
		return nil, false
	}
	return args, true
}

// matchesBinary reports whether argv[0] names the expected executable,
// ignoring the directory it was launched from.
func matchesBinary(args []string, binary string) bool {
	if len(args) == 0 || binary == "" {
		return false
	}
	return filepath.Base(args[0]) == filepath.Base(binary)
}

// firstAbsoluteArg returns the first absolute path among the arguments,
// which for user-fs children is the mount point. Empty when none is found.
func firstAbsoluteArg(args []string) string {
	for _, arg := range args[1:] {
		if filepath.IsAbs(arg) {
			return arg
		}
	}
	return ""
}
