//go:build integration

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/mountd/pkg/creds"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/marmos91/mountd/pkg/mount"
	"github.com/marmos91/mountd/pkg/oplock"
	"github.com/marmos91/mountd/pkg/store"
)

const testNode = "node-a"

// fakeDriver is an in-memory mount.Driver. It tracks which paths are
// attached and can be scripted to fail.
type fakeDriver struct {
	kind models.TargetKind

	mu           sync.Mutex
	mounted      map[string]bool
	inaccessible map[string]bool
	mountErr     error
	unmountErr   error
	mountCalls   int
	unmountCalls int
	cleanupCalls int
	lastCreds    map[string]string
}

func newFakeDriver(kind models.TargetKind) *fakeDriver {
	return &fakeDriver{
		kind:         kind,
		mounted:      map[string]bool{},
		inaccessible: map[string]bool{},
	}
}

func (d *fakeDriver) Kind() models.TargetKind { return d.kind }

func (d *fakeDriver) Mount(ctx context.Context, target *models.BackupTarget, credentials map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mountCalls++
	d.lastCreds = credentials
	if d.mountErr != nil {
		return d.mountErr
	}
	d.mounted[target.MountPath] = true
	return nil
}

func (d *fakeDriver) Unmount(ctx context.Context, target *models.BackupTarget) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmountCalls++
	if d.unmountErr != nil {
		return d.unmountErr
	}
	delete(d.mounted, target.MountPath)
	delete(d.inaccessible, target.MountPath)
	return nil
}

func (d *fakeDriver) IsMounted(ctx context.Context, mountPath string) (mount.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.mounted[mountPath] {
		return mount.Status{}, nil
	}
	return mount.Status{Mounted: true, Accessible: !d.inaccessible[mountPath]}, nil
}

func (d *fakeDriver) CleanupStale(ctx context.Context, mountPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanupCalls++
	delete(d.mounted, mountPath)
	delete(d.inaccessible, mountPath)
	return nil
}

func (d *fakeDriver) isMountedNow(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mounted[path]
}

func (d *fakeDriver) setMounted(path string, accessible bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mounted[path] = true
	d.inaccessible[path] = !accessible
}

// rejectingVerifier fails every token.
type rejectingVerifier struct{}

func (rejectingVerifier) Verify(context.Context, string) error {
	return creds.ErrInvalidToken
}

type testEnv struct {
	store  *store.Store
	netfs  *fakeDriver
	userfs *fakeDriver
	svc    *MountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, creds.AllowAll{}, &creds.StaticSource{
		Credentials: creds.Credentials{"access_key": "AK", "secret_key": "SK"},
	})
}

func newTestEnvWith(t *testing.T, verifier creds.TokenVerifier, source creds.Source) *testEnv {
	t.Helper()

	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	lock, err := oplock.New(t.TempDir(), 2*time.Second)
	if err != nil {
		t.Fatalf("oplock.New: %v", err)
	}

	netfs := newFakeDriver(models.TargetKindNetFS)
	userfs := newFakeDriver(models.TargetKindUserFS)

	svc, err := New(Options{
		Store:    s,
		Drivers:  mount.NewDrivers(netfs, userfs),
		Verifier: verifier,
		Source:   source,
		Lock:     lock,
		NodeID:   testNode,
	})
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}

	return &testEnv{store: s, netfs: netfs, userfs: userfs, svc: svc}
}

func (e *testEnv) seedTarget(t *testing.T, name string, kind models.TargetKind) *models.BackupTarget {
	t.Helper()
	target := &models.BackupTarget{
		Name:      name,
		Kind:      kind,
		Export:    "nfs.example.com:/exports/" + name,
		MountPath: "/var/mountd/" + name,
	}
	if kind == models.TargetKindUserFS {
		target.Export = name + "-bucket"
		target.CredentialRef = "https://secrets.example.com/v1/secrets/" + name
	}
	if _, err := e.store.CreateTarget(context.Background(), target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}
	return target
}

func (e *testEnv) seedJob(t *testing.T, jobID uint64, status models.JobStatus) {
	t.Helper()
	if err := e.store.UpsertJob(context.Background(), &models.Job{
		JobID:  jobID,
		Status: status,
		Action: "backup",
	}); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}
}

func (e *testEnv) activeCount(t *testing.T, targetID string) int64 {
	t.Helper()
	n, err := e.store.ActiveJobCount(context.Background(), targetID, testNode)
	if err != nil {
		t.Fatalf("ActiveJobCount: %v", err)
	}
	return n
}

func TestMountFirstUserAttaches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusRunning)

	res, err := env.svc.Mount(ctx, 1, target.ID, "tok")
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !res.PhysicallyMounted || res.ReusedExisting {
		t.Errorf("result = %+v, want fresh physical mount", res)
	}
	if res.MountPath != target.MountPath {
		t.Errorf("MountPath = %q, want %q", res.MountPath, target.MountPath)
	}
	if !env.netfs.isMountedNow(target.MountPath) {
		t.Error("driver did not attach the filesystem")
	}
	if got := env.activeCount(t, target.ID); got != 1 {
		t.Errorf("active count = %d, want 1", got)
	}
}

func TestMountSecondJobSharesAttach(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusRunning)
	env.seedJob(t, 2, models.JobStatusStarting)

	if _, err := env.svc.Mount(ctx, 1, target.ID, "tok"); err != nil {
		t.Fatalf("first Mount: %v", err)
	}
	res, err := env.svc.Mount(ctx, 2, target.ID, "tok")
	if err != nil {
		t.Fatalf("second Mount: %v", err)
	}
	if res.PhysicallyMounted {
		t.Error("second job re-attached instead of sharing")
	}
	if env.netfs.mountCalls != 1 {
		t.Errorf("driver Mount called %d times, want 1", env.netfs.mountCalls)
	}
	if got := env.activeCount(t, target.ID); got != 2 {
		t.Errorf("active count = %d, want 2", got)
	}
}

func TestMountSameJobTwiceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusRunning)

	if _, err := env.svc.Mount(ctx, 1, target.ID, "tok"); err != nil {
		t.Fatalf("first Mount: %v", err)
	}
	res, err := env.svc.Mount(ctx, 1, target.ID, "tok")
	if err != nil {
		t.Fatalf("repeat Mount: %v", err)
	}
	if !res.ReusedExisting {
		t.Error("repeat mount did not report ReusedExisting")
	}
	if got := env.activeCount(t, target.ID); got != 1 {
		t.Errorf("active count = %d, want 1 (no duplicate claim)", got)
	}
	if env.netfs.mountCalls != 1 {
		t.Errorf("driver Mount called %d times, want 1", env.netfs.mountCalls)
	}
}

func TestUnmountLastUserDetaches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusRunning)
	env.seedJob(t, 2, models.JobStatusRunning)

	if _, err := env.svc.Mount(ctx, 1, target.ID, "tok"); err != nil {
		t.Fatalf("Mount job 1: %v", err)
	}
	if _, err := env.svc.Mount(ctx, 2, target.ID, "tok"); err != nil {
		t.Fatalf("Mount job 2: %v", err)
	}

	res, err := env.svc.Unmount(ctx, 1, target.ID)
	if err != nil {
		t.Fatalf("Unmount job 1: %v", err)
	}
	if res.PhysicallyUnmounted {
		t.Error("first unmount detached while job 2 still holds the target")
	}
	if res.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", res.Remaining)
	}
	if !env.netfs.isMountedNow(target.MountPath) {
		t.Fatal("filesystem detached too early")
	}

	res, err = env.svc.Unmount(ctx, 2, target.ID)
	if err != nil {
		t.Fatalf("Unmount job 2: %v", err)
	}
	if !res.PhysicallyUnmounted {
		t.Error("last unmount did not detach")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if env.netfs.isMountedNow(target.MountPath) {
		t.Error("filesystem still attached after last unmount")
	}
}

func TestUnmountWithoutClaimSucceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)

	res, err := env.svc.Unmount(ctx, 99, target.ID)
	if err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if !res.NoActiveMount {
		t.Error("NoActiveMount = false, want true")
	}
	if env.netfs.unmountCalls != 0 {
		t.Error("driver touched on a no-op unmount")
	}
}

func TestMountFailureRollsBackClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusRunning)
	env.netfs.mountErr = errors.New("mount.nfs: Connection timed out")

	_, err := env.svc.Mount(ctx, 1, target.ID, "tok")
	if err == nil {
		t.Fatal("Mount succeeded despite driver failure")
	}
	if got := KindOf(err); got != KindMountFailed {
		t.Errorf("KindOf = %s, want %s", got, KindMountFailed)
	}
	// The claim inserted before the driver ran must be gone.
	if got := env.activeCount(t, target.ID); got != 0 {
		t.Errorf("active count = %d after failed mount, want 0", got)
	}
	if _, err := env.store.FindActiveEntry(ctx, 1, target.ID, testNode); !errors.Is(err, models.ErrLedgerEntryNotFound) {
		t.Errorf("ledger entry survived the rollback: %v", err)
	}
}

func TestUnmountFailureKeepsClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusRunning)

	if _, err := env.svc.Mount(ctx, 1, target.ID, "tok"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	env.netfs.unmountErr = errors.New("umount: target is busy")

	_, err := env.svc.Unmount(ctx, 1, target.ID)
	if err == nil {
		t.Fatal("Unmount succeeded despite driver failure")
	}
	if got := KindOf(err); got != KindUnmountFailed {
		t.Errorf("KindOf = %s, want %s", got, KindUnmountFailed)
	}
	// The soft-delete must have been rolled back: the job still holds it.
	if got := env.activeCount(t, target.ID); got != 1 {
		t.Errorf("active count = %d after failed unmount, want 1", got)
	}
}

func TestMountUnknownTarget(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Mount(context.Background(), 1, "b3e9bb41-0000-0000-0000-000000000000", "tok")
	if err == nil {
		t.Fatal("Mount succeeded for unknown target")
	}
	if got := KindOf(err); got != KindTargetNotFound {
		t.Errorf("KindOf = %s, want %s", got, KindTargetNotFound)
	}
}

func TestMountDeletedTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	if err := env.store.DeleteTarget(ctx, target.ID); err != nil {
		t.Fatalf("DeleteTarget: %v", err)
	}

	_, err := env.svc.Mount(ctx, 1, target.ID, "tok")
	if got := KindOf(err); got != KindTargetNotFound {
		t.Errorf("KindOf = %s, want %s (err=%v)", got, KindTargetNotFound, err)
	}
}

func TestMountRejectedToken(t *testing.T) {
	env := newTestEnvWith(t, rejectingVerifier{}, nil)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusRunning)

	_, err := env.svc.Mount(ctx, 1, target.ID, "bad-token")
	if got := KindOf(err); got != KindAuthFailed {
		t.Errorf("KindOf = %s, want %s (err=%v)", got, KindAuthFailed, err)
	}
	if got := env.activeCount(t, target.ID); got != 0 {
		t.Errorf("active count = %d after rejected token, want 0", got)
	}
}

func TestMountMissingTargetID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Mount(context.Background(), 1, "", "tok")
	if got := KindOf(err); got != KindBadRequest {
		t.Errorf("KindOf = %s, want %s", got, KindBadRequest)
	}
}

func TestMountInactiveJobKeepsClaimWithoutAttach(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusSucceeded)

	res, err := env.svc.Mount(ctx, 1, target.ID, "tok")
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if res.PhysicallyMounted {
		t.Error("inactive job triggered a physical mount")
	}
	if env.netfs.mountCalls != 0 {
		t.Errorf("driver Mount called %d times, want 0", env.netfs.mountCalls)
	}
}

func TestMountAdoptsAlreadyAttachedFilesystem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusRunning)

	// Filesystem survives from before a restart; ledger has no claims.
	env.netfs.setMounted(target.MountPath, true)

	res, err := env.svc.Mount(ctx, 1, target.ID, "tok")
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if res.PhysicallyMounted {
		t.Error("mount re-attached a filesystem that was already present")
	}
	if env.netfs.mountCalls != 0 {
		t.Errorf("driver Mount called %d times, want 0", env.netfs.mountCalls)
	}
	if got := env.activeCount(t, target.ID); got != 1 {
		t.Errorf("active count = %d, want 1", got)
	}
}

func TestMountUserFSPassesCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "bravo", models.TargetKindUserFS)
	env.seedJob(t, 1, models.JobStatusRunning)

	res, err := env.svc.Mount(ctx, 1, target.ID, "tok")
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !res.PhysicallyMounted {
		t.Error("user-fs mount did not attach")
	}
	if env.userfs.lastCreds["access_key"] != "AK" {
		t.Errorf("driver credentials = %v, want fetched credentials", env.userfs.lastCreds)
	}
	if env.netfs.mountCalls != 0 {
		t.Error("request routed to the wrong driver")
	}
}

func TestMountUserFSWithoutCredentialRef(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "bravo", models.TargetKindUserFS)
	target.CredentialRef = ""
	if err := env.store.DB().WithContext(ctx).Save(target).Error; err != nil {
		t.Fatalf("clearing credential ref: %v", err)
	}
	env.seedJob(t, 1, models.JobStatusRunning)

	_, err := env.svc.Mount(ctx, 1, target.ID, "tok")
	if got := KindOf(err); got != KindBadRequest {
		t.Errorf("KindOf = %s, want %s (err=%v)", got, KindBadRequest, err)
	}
	if got := env.activeCount(t, target.ID); got != 0 {
		t.Errorf("active count = %d, want 0 after rollback", got)
	}
}

func TestFullLifecycleAcrossTwoJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := env.seedTarget(t, "alpha", models.TargetKindNetFS)
	env.seedJob(t, 1, models.JobStatusRunning)
	env.seedJob(t, 2, models.JobStatusRunning)

	steps := []struct {
		name         string
		run          func() (physical bool, err error)
		wantPhysical bool
	}{
		{"job 1 mounts", func() (bool, error) {
			r, err := env.svc.Mount(ctx, 1, target.ID, "tok")
			return r != nil && r.PhysicallyMounted, err
		}, true},
		{"job 2 joins", func() (bool, error) {
			r, err := env.svc.Mount(ctx, 2, target.ID, "tok")
			return r != nil && r.PhysicallyMounted, err
		}, false},
		{"job 2 leaves", func() (bool, error) {
			r, err := env.svc.Unmount(ctx, 2, target.ID)
			return r != nil && r.PhysicallyUnmounted, err
		}, false},
		{"job 1 leaves", func() (bool, error) {
			r, err := env.svc.Unmount(ctx, 1, target.ID)
			return r != nil && r.PhysicallyUnmounted, err
		}, true},
	}

	for _, step := range steps {
		physical, err := step.run()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if physical != step.wantPhysical {
			t.Errorf("%s: physical = %v, want %v", step.name, physical, step.wantPhysical)
		}
	}

	if env.netfs.mountCalls != 1 || env.netfs.unmountCalls != 1 {
		t.Errorf("driver calls mount=%d unmount=%d, want 1/1",
			env.netfs.mountCalls, env.netfs.unmountCalls)
	}
}
