//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/mountd/pkg/models"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return s
}

func seedTarget(t *testing.T, s *Store, name string) *models.BackupTarget {
	t.Helper()
	target := &models.BackupTarget{
		Name:      name,
		Kind:      models.TargetKindNetFS,
		Export:    "nfs.example.com:/exports/" + name,
		MountPath: "/var/mountd/" + name,
	}
	if _, err := s.CreateTarget(context.Background(), target); err != nil {
		t.Fatalf("failed to seed target %s: %v", name, err)
	}
	return target
}

func seedJob(t *testing.T, s *Store, jobID uint64, status models.JobStatus) {
	t.Helper()
	err := s.UpsertJob(context.Background(), &models.Job{
		JobID:  jobID,
		Status: status,
		Action: "backup",
	})
	if err != nil {
		t.Fatalf("failed to seed job %d: %v", jobID, err)
	}
}

func seedEntry(t *testing.T, s *Store, jobID uint64, targetID, nodeID string) *models.MountLedgerEntry {
	t.Helper()
	entry := &models.MountLedgerEntry{
		JobID:    jobID,
		TargetID: targetID,
		NodeID:   nodeID,
	}
	if _, err := s.CreateEntry(context.Background(), entry); err != nil {
		t.Fatalf("failed to seed ledger entry: %v", err)
	}
	return entry
}

func TestNew(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()

		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
		if config.SQLite.Path == "" {
			t.Error("expected default sqlite path to be set")
		}
	})

	t.Run("postgres defaults", func(t *testing.T) {
		config := &Config{Type: DatabaseTypePostgres}
		config.ApplyDefaults()

		if config.Postgres.Port != 5432 {
			t.Errorf("expected port 5432, got %d", config.Postgres.Port)
		}
		if config.Postgres.SSLMode != "disable" {
			t.Errorf("expected sslmode disable, got %s", config.Postgres.SSLMode)
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		config := &Config{Type: "mysql"}
		if err := config.Validate(); err == nil {
			t.Error("expected error for unsupported database type")
		}
	})

	t.Run("postgres requires host", func(t *testing.T) {
		config := &Config{
			Type:     DatabaseTypePostgres,
			Postgres: PostgresConfig{Database: "dms", User: "dms"},
		}
		if err := config.Validate(); err == nil {
			t.Error("expected error for missing postgres host")
		}
	})
}

func TestPostgresDSN(t *testing.T) {
	config := PostgresConfig{
		Host:     "db.internal",
		Port:     5433,
		Database: "ledger",
		User:     "mountd",
		Password: "secret",
		SSLMode:  "require",
	}
	dsn := config.DSN()

	want := "host=db.internal port=5433 user=mountd password=secret dbname=ledger sslmode=require"
	if dsn != want {
		t.Errorf("DSN() = %q, want %q", dsn, want)
	}
}

func TestTargetCRUD(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	target := seedTarget(t, s, "nfs-primary")

	t.Run("get by id", func(t *testing.T) {
		got, err := s.GetTarget(ctx, target.ID)
		if err != nil {
			t.Fatalf("GetTarget failed: %v", err)
		}
		if got.Name != "nfs-primary" {
			t.Errorf("expected name nfs-primary, got %s", got.Name)
		}
		if got.Status != models.TargetStatusAvailable {
			t.Errorf("expected default status available, got %s", got.Status)
		}
	})

	t.Run("get by name", func(t *testing.T) {
		got, err := s.GetTargetByName(ctx, "nfs-primary")
		if err != nil {
			t.Fatalf("GetTargetByName failed: %v", err)
		}
		if got.ID != target.ID {
			t.Errorf("expected ID %s, got %s", target.ID, got.ID)
		}
	})

	t.Run("resolve by id and by name", func(t *testing.T) {
		byID, err := s.ResolveTarget(ctx, target.ID)
		if err != nil {
			t.Fatalf("ResolveTarget by ID failed: %v", err)
		}
		byName, err := s.ResolveTarget(ctx, "nfs-primary")
		if err != nil {
			t.Fatalf("ResolveTarget by name failed: %v", err)
		}
		if byID.ID != byName.ID {
			t.Error("resolve by ID and by name returned different targets")
		}
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		_, err := s.CreateTarget(ctx, &models.BackupTarget{
			Name:      "nfs-primary",
			Kind:      models.TargetKindNetFS,
			Export:    "other.example.com:/exports/x",
			MountPath: "/var/mountd/x",
		})
		if !errors.Is(err, models.ErrDuplicateTarget) {
			t.Errorf("expected ErrDuplicateTarget, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetTarget(ctx, "no-such-id")
		if !errors.Is(err, models.ErrTargetNotFound) {
			t.Errorf("expected ErrTargetNotFound, got %v", err)
		}
	})

	t.Run("update status", func(t *testing.T) {
		if err := s.UpdateTargetStatus(ctx, target.ID, models.TargetStatusUnavailable); err != nil {
			t.Fatalf("UpdateTargetStatus failed: %v", err)
		}
		got, err := s.GetTarget(ctx, target.ID)
		if err != nil {
			t.Fatalf("GetTarget failed: %v", err)
		}
		if got.Status != models.TargetStatusUnavailable {
			t.Errorf("expected status unavailable, got %s", got.Status)
		}
	})

	t.Run("find by mount path", func(t *testing.T) {
		got, err := s.FindTargetByMountPath(ctx, "/var/mountd/nfs-primary")
		if err != nil {
			t.Fatalf("FindTargetByMountPath failed: %v", err)
		}
		if got.ID != target.ID {
			t.Errorf("expected ID %s, got %s", target.ID, got.ID)
		}
	})

	t.Run("soft delete hides target", func(t *testing.T) {
		if err := s.DeleteTarget(ctx, target.ID); err != nil {
			t.Fatalf("DeleteTarget failed: %v", err)
		}
		if _, err := s.GetTarget(ctx, target.ID); !errors.Is(err, models.ErrTargetNotFound) {
			t.Errorf("expected ErrTargetNotFound after delete, got %v", err)
		}
		if err := s.DeleteTarget(ctx, target.ID); !errors.Is(err, models.ErrTargetNotFound) {
			t.Errorf("expected ErrTargetNotFound on second delete, got %v", err)
		}
	})

	t.Run("soft-deleted target still resolvable for teardown", func(t *testing.T) {
		got, err := s.GetTargetIncludingDeleted(ctx, target.ID)
		if err != nil {
			t.Fatalf("GetTargetIncludingDeleted failed: %v", err)
		}
		if !got.Deleted {
			t.Error("expected deleted flag set")
		}
		if got.MountPath != "/var/mountd/nfs-primary" {
			t.Errorf("expected mount path preserved, got %s", got.MountPath)
		}
	})
}

func TestListTargets(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	seedTarget(t, s, "beta")
	seedTarget(t, s, "alpha")
	deleted := seedTarget(t, s, "gone")
	if err := s.DeleteTarget(ctx, deleted.ID); err != nil {
		t.Fatalf("DeleteTarget failed: %v", err)
	}

	targets, err := s.ListTargets(ctx)
	if err != nil {
		t.Fatalf("ListTargets failed: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0].Name != "alpha" || targets[1].Name != "beta" {
		t.Errorf("expected targets ordered by name, got %s, %s", targets[0].Name, targets[1].Name)
	}
}

func TestJobs(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	seedJob(t, s, 42, models.JobStatusStarting)

	t.Run("get", func(t *testing.T) {
		job, err := s.GetJob(ctx, 42)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if !job.Active() {
			t.Error("expected starting job to be active")
		}
	})

	t.Run("upsert updates status", func(t *testing.T) {
		seedJob(t, s, 42, models.JobStatusRunning)
		job, err := s.GetJob(ctx, 42)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status != models.JobStatusRunning {
			t.Errorf("expected status running, got %s", job.Status)
		}
	})

	t.Run("set status", func(t *testing.T) {
		if err := s.SetJobStatus(ctx, 42, models.JobStatusSucceeded); err != nil {
			t.Fatalf("SetJobStatus failed: %v", err)
		}
		job, err := s.GetJob(ctx, 42)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Active() {
			t.Error("expected succeeded job to be inactive")
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := s.GetJob(ctx, 777); !errors.Is(err, models.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
		if err := s.SetJobStatus(ctx, 777, models.JobStatusFailed); !errors.Is(err, models.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})
}

func TestLedgerEntryLifecycle(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	target := seedTarget(t, s, "t1")
	seedJob(t, s, 1, models.JobStatusRunning)
	entry := seedEntry(t, s, 1, target.ID, "node-a")

	t.Run("entry defaults", func(t *testing.T) {
		if entry.ID == "" {
			t.Error("expected generated entry ID")
		}
		if entry.Version != models.LedgerSchemaVersion {
			t.Errorf("expected version %s, got %s", models.LedgerSchemaVersion, entry.Version)
		}
	})

	t.Run("find active entry", func(t *testing.T) {
		got, err := s.FindActiveEntry(ctx, 1, target.ID, "node-a")
		if err != nil {
			t.Fatalf("FindActiveEntry failed: %v", err)
		}
		if got.ID != entry.ID {
			t.Errorf("expected entry %s, got %s", entry.ID, got.ID)
		}
		if got.Mounted {
			t.Error("expected new entry to start unmounted")
		}
	})

	t.Run("wrong node not found", func(t *testing.T) {
		_, err := s.FindActiveEntry(ctx, 1, target.ID, "node-b")
		if !errors.Is(err, models.ErrLedgerEntryNotFound) {
			t.Errorf("expected ErrLedgerEntryNotFound, got %v", err)
		}
	})

	t.Run("set entry mounted", func(t *testing.T) {
		if err := s.SetEntryMounted(ctx, entry.ID, true); err != nil {
			t.Fatalf("SetEntryMounted failed: %v", err)
		}
		got, err := s.FindActiveEntry(ctx, 1, target.ID, "node-a")
		if err != nil {
			t.Fatalf("FindActiveEntry failed: %v", err)
		}
		if !got.Mounted {
			t.Error("expected mounted flag to be set")
		}
	})

	t.Run("soft delete", func(t *testing.T) {
		if err := s.SoftDeleteEntry(ctx, entry.ID); err != nil {
			t.Fatalf("SoftDeleteEntry failed: %v", err)
		}
		_, err := s.FindActiveEntry(ctx, 1, target.ID, "node-a")
		if !errors.Is(err, models.ErrLedgerEntryNotFound) {
			t.Errorf("expected ErrLedgerEntryNotFound after soft delete, got %v", err)
		}
		if err := s.SoftDeleteEntry(ctx, entry.ID); !errors.Is(err, models.ErrLedgerEntryNotFound) {
			t.Errorf("expected ErrLedgerEntryNotFound on second delete, got %v", err)
		}
	})
}

func TestActiveJobCount(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	target := seedTarget(t, s, "t1")
	other := seedTarget(t, s, "t2")

	seedJob(t, s, 1, models.JobStatusStarting)
	seedJob(t, s, 2, models.JobStatusRunning)
	seedJob(t, s, 3, models.JobStatusSucceeded)
	seedJob(t, s, 4, models.JobStatusRunning)
	seedJob(t, s, 5, models.JobStatusRunning)

	seedEntry(t, s, 1, target.ID, "node-a")
	seedEntry(t, s, 2, target.ID, "node-a")
	// Finished job: entry exists but must not count.
	seedEntry(t, s, 3, target.ID, "node-a")
	// Active job on another node: must not count for node-a.
	seedEntry(t, s, 4, target.ID, "node-b")
	// Active job on another target: must not count for t1.
	seedEntry(t, s, 5, other.ID, "node-a")

	count, err := s.ActiveJobCount(ctx, target.ID, "node-a")
	if err != nil {
		t.Fatalf("ActiveJobCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}

	t.Run("soft-deleted entry does not count", func(t *testing.T) {
		entry, err := s.FindActiveEntry(ctx, 1, target.ID, "node-a")
		if err != nil {
			t.Fatalf("FindActiveEntry failed: %v", err)
		}
		if err := s.SoftDeleteEntry(ctx, entry.ID); err != nil {
			t.Fatalf("SoftDeleteEntry failed: %v", err)
		}

		count, err := s.ActiveJobCount(ctx, target.ID, "node-a")
		if err != nil {
			t.Fatalf("ActiveJobCount failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}
	})

	t.Run("job leaving active set drops count", func(t *testing.T) {
		if err := s.SetJobStatus(ctx, 2, models.JobStatusFailed); err != nil {
			t.Fatalf("SetJobStatus failed: %v", err)
		}

		count, err := s.ActiveJobCount(ctx, target.ID, "node-a")
		if err != nil {
			t.Fatalf("ActiveJobCount failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0, got %d", count)
		}
	})

	t.Run("entry without job row does not count", func(t *testing.T) {
		seedEntry(t, s, 999, target.ID, "node-a")

		count, err := s.ActiveJobCount(ctx, target.ID, "node-a")
		if err != nil {
			t.Fatalf("ActiveJobCount failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0, got %d", count)
		}
	})
}

func TestActiveClaimCount(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	target := seedTarget(t, s, "t1")
	other := seedTarget(t, s, "t2")

	seedJob(t, s, 1, models.JobStatusRunning)
	seedJob(t, s, 2, models.JobStatusSucceeded)
	seedJob(t, s, 3, models.JobStatusRunning)

	// Claims count across nodes and regardless of job status.
	seedEntry(t, s, 1, target.ID, "node-a")
	seedEntry(t, s, 2, target.ID, "node-b")
	seedEntry(t, s, 3, other.ID, "node-a")
	deleted := seedEntry(t, s, 3, target.ID, "node-a")
	if err := s.SoftDeleteEntry(ctx, deleted.ID); err != nil {
		t.Fatalf("SoftDeleteEntry failed: %v", err)
	}

	count, err := s.ActiveClaimCount(ctx, target.ID)
	if err != nil {
		t.Fatalf("ActiveClaimCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}

	count, err = s.ActiveClaimCount(ctx, "no-such-target")
	if err != nil {
		t.Fatalf("ActiveClaimCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}
}

func TestSetMountedFlag(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	target := seedTarget(t, s, "t1")
	seedJob(t, s, 1, models.JobStatusRunning)
	seedJob(t, s, 2, models.JobStatusRunning)

	live := seedEntry(t, s, 1, target.ID, "node-a")
	dead := seedEntry(t, s, 2, target.ID, "node-a")
	if err := s.SoftDeleteEntry(ctx, dead.ID); err != nil {
		t.Fatalf("SoftDeleteEntry failed: %v", err)
	}

	updated, err := s.SetMountedFlag(ctx, target.ID, "node-a", true, false)
	if err != nil {
		t.Fatalf("SetMountedFlag failed: %v", err)
	}
	// Marking mounted touches only rows that still hold the mount.
	if updated != 1 {
		t.Errorf("expected 1 row updated, got %d", updated)
	}

	got, err := s.FindActiveEntry(ctx, 1, target.ID, "node-a")
	if err != nil {
		t.Fatalf("FindActiveEntry failed: %v", err)
	}
	if !got.Mounted {
		t.Error("expected live entry to be marked mounted")
	}
	_ = live

	t.Run("clearing covers deleted rows", func(t *testing.T) {
		updated, err := s.SetMountedFlag(ctx, target.ID, "node-a", false, true)
		if err != nil {
			t.Fatalf("SetMountedFlag failed: %v", err)
		}
		if updated != 2 {
			t.Errorf("expected 2 rows updated, got %d", updated)
		}
	})

	t.Run("no rows is not an error", func(t *testing.T) {
		updated, err := s.SetMountedFlag(ctx, "no-such-target", "node-a", false, true)
		if err != nil {
			t.Fatalf("SetMountedFlag failed: %v", err)
		}
		if updated != 0 {
			t.Errorf("expected 0 rows updated, got %d", updated)
		}
	})
}

func TestListEntriesForNode(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	target := seedTarget(t, s, "t1")
	seedJob(t, s, 1, models.JobStatusRunning)
	seedJob(t, s, 2, models.JobStatusRunning)

	seedEntry(t, s, 1, target.ID, "node-a")
	dead := seedEntry(t, s, 2, target.ID, "node-a")
	if err := s.SoftDeleteEntry(ctx, dead.ID); err != nil {
		t.Fatalf("SoftDeleteEntry failed: %v", err)
	}

	entries, err := s.ListEntriesForNode(ctx, "node-a", false)
	if err != nil {
		t.Fatalf("ListEntriesForNode failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 live entry, got %d", len(entries))
	}

	all, err := s.ListEntriesForNode(ctx, "node-a", true)
	if err != nil {
		t.Fatalf("ListEntriesForNode failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 entries including deleted, got %d", len(all))
	}
}

func TestDistinctTargetsForNode(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	t1 := seedTarget(t, s, "t1")
	t2 := seedTarget(t, s, "t2")
	seedJob(t, s, 1, models.JobStatusRunning)
	seedJob(t, s, 2, models.JobStatusRunning)
	seedJob(t, s, 3, models.JobStatusRunning)

	seedEntry(t, s, 1, t1.ID, "node-a")
	seedEntry(t, s, 2, t1.ID, "node-a")
	gone := seedEntry(t, s, 3, t2.ID, "node-a")
	if err := s.SoftDeleteEntry(ctx, gone.ID); err != nil {
		t.Fatalf("SoftDeleteEntry failed: %v", err)
	}

	ids, err := s.DistinctTargetsForNode(ctx, "node-a")
	if err != nil {
		t.Fatalf("DistinctTargetsForNode failed: %v", err)
	}
	// Pairs with only deleted entries still show up: the reconciler needs
	// them to catch mounts that outlived their ledger rows.
	if len(ids) != 2 {
		t.Errorf("expected 2 distinct targets, got %d (%v)", len(ids), ids)
	}

	ids, err = s.DistinctTargetsForNode(ctx, "node-b")
	if err != nil {
		t.Fatalf("DistinctTargetsForNode failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no targets for node-b, got %v", ids)
	}
}

func TestTransactionRollback(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	target := seedTarget(t, s, "t1")
	seedJob(t, s, 1, models.JobStatusRunning)

	wantErr := fmt.Errorf("mount failed")
	err := s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.CreateEntry(ctx, &models.MountLedgerEntry{
			JobID:    1,
			TargetID: target.ID,
			NodeID:   "node-a",
		}); err != nil {
			return err
		}

		// The insert is visible inside the transaction.
		count, err := tx.ActiveJobCount(ctx, target.ID, "node-a")
		if err != nil {
			return err
		}
		if count != 1 {
			t.Errorf("expected count 1 inside transaction, got %d", count)
		}

		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected transaction to return %v, got %v", wantErr, err)
	}

	// Rolled back: the entry must be gone.
	count, err := s.ActiveJobCount(ctx, target.ID, "node-a")
	if err != nil {
		t.Fatalf("ActiveJobCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected count 0 after rollback, got %d", count)
	}
}

func TestPurgeDeletedEntries(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	target := seedTarget(t, s, "t1")
	seedJob(t, s, 1, models.JobStatusRunning)
	seedJob(t, s, 2, models.JobStatusRunning)

	old := seedEntry(t, s, 1, target.ID, "node-a")
	if err := s.SoftDeleteEntry(ctx, old.ID); err != nil {
		t.Fatalf("SoftDeleteEntry failed: %v", err)
	}
	seedEntry(t, s, 2, target.ID, "node-a")

	purged, err := s.PurgeDeletedEntries(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeDeletedEntries failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged entry, got %d", purged)
	}

	all, err := s.ListEntriesForNode(ctx, "node-a", true)
	if err != nil {
		t.Fatalf("ListEntriesForNode failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 remaining entry, got %d", len(all))
	}
}

func TestIsSerializationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sqlite busy", fmt.Errorf("database is locked (5) (SQLITE_BUSY)"), true},
		{"postgres deadlock", fmt.Errorf("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{"postgres serialization", fmt.Errorf("ERROR: could not serialize access due to concurrent update"), true},
		{"other", fmt.Errorf("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSerializationError(tt.err); got != tt.want {
				t.Errorf("IsSerializationError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
