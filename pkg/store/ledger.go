package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/mountd/pkg/models"
)

// ============================================
// MOUNT LEDGER OPERATIONS
// ============================================

// FindActiveEntry retrieves the non-deleted ledger entry for a
// (job, target, node) triple.
func (s *Store) FindActiveEntry(ctx context.Context, jobID uint64, targetID, nodeID string) (*models.MountLedgerEntry, error) {
	var entry models.MountLedgerEntry
	err := s.db.WithContext(ctx).
		Where("jobid = ? AND backup_target_id = ? AND node_id = ? AND deleted = ?",
			jobID, targetID, nodeID, false).
		First(&entry).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrLedgerEntryNotFound)
	}
	return &entry, nil
}

// CreateEntry inserts a new ledger entry, generating an ID when absent.
func (s *Store) CreateEntry(ctx context.Context, entry *models.MountLedgerEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Version == "" {
		entry.Version = models.LedgerSchemaVersion
	}
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueConstraintError(err) {
			return "", models.ErrDuplicateLedgerEntry
		}
		return "", err
	}
	return entry.ID, nil
}

// SoftDeleteEntry marks a ledger entry deleted. The row is preserved for
// audit and for the reconciler, which inspects historical pairs.
func (s *Store) SoftDeleteEntry(ctx context.Context, id string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.MountLedgerEntry{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]any{
			"deleted":    true,
			"deleted_at": now,
			"updated_at": now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrLedgerEntryNotFound
	}
	return nil
}

// ActiveJobCount counts the non-deleted ledger entries for (target, node)
// whose job is active. This count is the refcount source of truth: the
// first user of a target physically mounts it and the last one unmounts it,
// and both decisions read this value inside the surrounding transaction.
func (s *Store) ActiveJobCount(ctx context.Context, targetID, nodeID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.MountLedgerEntry{}).
		Joins("JOIN jobs ON jobs.jobid = backup_target_mount_ledger.jobid AND jobs.deleted = ?", false).
		Where("backup_target_mount_ledger.backup_target_id = ?", targetID).
		Where("backup_target_mount_ledger.node_id = ?", nodeID).
		Where("backup_target_mount_ledger.deleted = ?", false).
		Where("jobs.status IN ?", models.ActiveJobStatuses).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ActiveClaimCount counts the non-deleted ledger entries for a target
// across every node. Used by the CLI to warn before deleting a target
// that jobs still reference.
func (s *Store) ActiveClaimCount(ctx context.Context, targetID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.MountLedgerEntry{}).
		Where("backup_target_id = ? AND deleted = ?", targetID, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SetEntryMounted updates the cached mounted flag of a single entry.
func (s *Store) SetEntryMounted(ctx context.Context, id string, mounted bool) error {
	result := s.db.WithContext(ctx).
		Model(&models.MountLedgerEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"mounted":    mounted,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrLedgerEntryNotFound
	}
	return nil
}

// SetMountedFlag updates the cached mounted flag on the ledger entries for
// (target, node). The flag records the last observed physical state of the
// pair, so it is smeared across its rows when a mount or unmount actually
// happens: clearing after an unmount covers soft-deleted rows too, while
// marking mounted touches only rows that still hold the mount. Returns the
// number of rows updated; zero rows is not an error.
func (s *Store) SetMountedFlag(ctx context.Context, targetID, nodeID string, mounted, includeDeleted bool) (int64, error) {
	q := s.db.WithContext(ctx).
		Model(&models.MountLedgerEntry{}).
		Where("backup_target_id = ? AND node_id = ?", targetID, nodeID)
	if !includeDeleted {
		q = q.Where("deleted = ?", false)
	}

	result := q.Updates(map[string]any{
		"mounted":    mounted,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ListEntriesForNode retrieves the ledger entries for a node, newest first.
// Soft-deleted entries are included only when includeDeleted is set.
func (s *Store) ListEntriesForNode(ctx context.Context, nodeID string, includeDeleted bool) ([]*models.MountLedgerEntry, error) {
	q := s.db.WithContext(ctx).Where("node_id = ?", nodeID)
	if !includeDeleted {
		q = q.Where("deleted = ?", false)
	}

	var entries []*models.MountLedgerEntry
	if err := q.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListEntriesForTarget retrieves the non-deleted ledger entries for a
// (target, node) pair.
func (s *Store) ListEntriesForTarget(ctx context.Context, targetID, nodeID string) ([]*models.MountLedgerEntry, error) {
	var entries []*models.MountLedgerEntry
	err := s.db.WithContext(ctx).
		Where("backup_target_id = ? AND node_id = ? AND deleted = ?", targetID, nodeID, false).
		Order("created_at").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DistinctTargetsForNode returns every target ID that has ever appeared in
// the ledger for a node, deleted rows included. The reconciler walks this
// set so it can also notice pairs whose entries are all gone but whose
// physical mount survived.
func (s *Store) DistinctTargetsForNode(ctx context.Context, nodeID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.MountLedgerEntry{}).
		Distinct().
		Where("node_id = ?", nodeID).
		Order("backup_target_id").
		Pluck("backup_target_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// PurgeDeletedEntries permanently removes soft-deleted ledger entries whose
// deletion happened before the cutoff. Used by the cleanup command only;
// normal operation never hard-deletes.
func (s *Store) PurgeDeletedEntries(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("deleted = ? AND deleted_at < ?", true, olderThan).
		Delete(&models.MountLedgerEntry{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
