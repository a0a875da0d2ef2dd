package mount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/mountd/internal/logger"
)

// Runner executes external commands. The seam exists so driver tests can
// script mount(8) and umount(8) outcomes without touching the kernel.
type Runner interface {
	// Run executes name with args, bounded by timeout, and returns the
	// combined output. A non-zero exit or a timeout is an error carrying
	// that output.
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error)
}

type execRunner struct{}

// NewRunner returns the Runner backed by os/exec.
func NewRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug("exec", "command", name+" "+strings.Join(args, " "))

	var buf bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := strings.TrimSpace(buf.String())

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%s timed out after %s", name, timeout)
	}
	if err != nil {
		if out != "" {
			return out, fmt.Errorf("%s failed: %w: %s", name, err, out)
		}
		return out, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}

// helper builds the command line for an operation that needs root. With a
// rootwrap configured the command becomes
// "sudo <rootwrap> <conf> <args...>"; without one the daemon is assumed to
// run privileged and executes args directly.
type helper struct {
	rootwrapPath string
	rootwrapConf string
}

func (h helper) wrap(args ...string) (string, []string) {
	if h.rootwrapPath != "" {
		wrapped := append([]string{h.rootwrapPath, h.rootwrapConf}, args...)
		return "sudo", wrapped
	}
	return args[0], args[1:]
}

// tailBuffer keeps the last cap bytes written to it, so a chatty child
// cannot grow the daemon unboundedly while the useful part of its output
// (the final error) is preserved. Safe for concurrent writers.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.cap {
		b.buf = b.buf[len(b.buf)-b.cap:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
