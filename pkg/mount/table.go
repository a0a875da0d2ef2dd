package mount

import (
	"context"
	"os"
	"time"

	"github.com/moby/sys/mountinfo"

	"github.com/marmos91/mountd/internal/logger"
)

// inMountTable reports whether path has an entry in the kernel mount
// table. This only parses /proc/self/mountinfo and never touches the path
// itself, so it cannot hang on a dead filesystem.
func inMountTable(path string) (bool, error) {
	entries, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(path))
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// tableEntry returns the mount table entry for path, or nil.
func tableEntry(path string) (*mountinfo.Info, error) {
	entries, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(path))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// probeAccessible stats and lists the mount point under a deadline. The
// underlying syscalls cannot be interrupted once issued, so a probe that
// times out is abandoned in its goroutine; it finishes (or not) on its
// own while the caller treats the mount as stale.
func probeAccessible(ctx context.Context, path string, timeout time.Duration) bool {
	done := make(chan bool, 1)
	go func() {
		if _, err := os.Stat(path); err != nil {
			done <- false
			return
		}
		if _, err := os.ReadDir(path); err != nil {
			done <- false
			return
		}
		done <- true
	}()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	case <-time.After(timeout):
		logger.Warn("mount point did not answer within probe deadline",
			"mount_path", path, "timeout", timeout.String())
		return false
	}
}

// probeStatus combines the mount table check with the bounded
// accessibility probe. Paths absent from the table are {false, false};
// a present path that does not answer in time is {true, false}.
func probeStatus(ctx context.Context, path string) (Status, error) {
	mounted, err := inMountTable(path)
	if err != nil {
		return Status{}, err
	}
	if !mounted {
		return Status{}, nil
	}
	return Status{
		Mounted:    true,
		Accessible: probeAccessible(ctx, path, accessProbeTimeout),
	}, nil
}

// waitUnmounted polls the mount table until path disappears or the window
// closes.
func waitUnmounted(ctx context.Context, path string, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for {
		mounted, err := inMountTable(path)
		if err == nil && !mounted {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}
