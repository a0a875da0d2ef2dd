package oplock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	s, err := New(t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	release, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("expected lock file to exist: %v", err)
	}

	release()
	// Double release must be harmless.
	release()

	release2, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	release2()
}

func TestAcquireTimeout(t *testing.T) {
	dir := t.TempDir()

	holder, err := New(dir, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	release, err := holder.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	// flock is held per open file description, so a second serializer in
	// the same process contends like another process would.
	waiter, err := New(dir, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	start := time.Now()
	_, err = waiter.Acquire(context.Background())
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("timed out too early: %s", elapsed)
	}
}

func TestAcquireContextCanceled(t *testing.T) {
	dir := t.TempDir()

	holder, err := New(dir, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	release, err := holder.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	waiter, err := New(dir, 10*time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = waiter.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestLockBlocksSecondHolder(t *testing.T) {
	dir := t.TempDir()

	a, err := New(dir, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New(dir, 5*time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	releaseA, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		release, err := b.Acquire(context.Background())
		if err == nil {
			release()
		}
		acquired <- err
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second acquire succeeded while lock held: %v", err)
	case <-time.After(250 * time.Millisecond):
	}

	releaseA()

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("second acquire failed after release: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestNewCreatesLockDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "locks")

	s, err := New(dir, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.timeout != DefaultTimeout {
		t.Errorf("expected default timeout %s, got %s", DefaultTimeout, s.timeout)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("expected lock directory to exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected lock path to be a directory")
	}
}

func TestNewRequiresDir(t *testing.T) {
	if _, err := New("", time.Second); err == nil {
		t.Error("expected error for empty lock directory")
	}
}
