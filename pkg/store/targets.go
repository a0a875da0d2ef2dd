package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/mountd/pkg/models"
)

// ============================================
// BACKUP TARGET OPERATIONS
// ============================================

// GetTarget retrieves a non-deleted backup target by ID.
func (s *Store) GetTarget(ctx context.Context, id string) (*models.BackupTarget, error) {
	var target models.BackupTarget
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted = ?", id, false).
		First(&target).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrTargetNotFound)
	}
	return &target, nil
}

// GetTargetIncludingDeleted retrieves a backup target by ID regardless of
// its deletion flag. Unmount teardown still needs the mount path of a
// target that was soft-deleted while jobs were using it.
func (s *Store) GetTargetIncludingDeleted(ctx context.Context, id string) (*models.BackupTarget, error) {
	var target models.BackupTarget
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&target).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrTargetNotFound)
	}
	return &target, nil
}

// GetTargetByName retrieves a non-deleted backup target by its unique name.
func (s *Store) GetTargetByName(ctx context.Context, name string) (*models.BackupTarget, error) {
	var target models.BackupTarget
	err := s.db.WithContext(ctx).
		Where("name = ? AND deleted = ?", name, false).
		First(&target).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrTargetNotFound)
	}
	return &target, nil
}

// ResolveTarget looks a target up by ID first and falls back to name.
// CLI commands accept either form.
func (s *Store) ResolveTarget(ctx context.Context, ref string) (*models.BackupTarget, error) {
	target, err := s.GetTarget(ctx, ref)
	if err == nil {
		return target, nil
	}
	return s.GetTargetByName(ctx, ref)
}

// ListTargets retrieves all non-deleted backup targets ordered by name.
func (s *Store) ListTargets(ctx context.Context) ([]*models.BackupTarget, error) {
	var targets []*models.BackupTarget
	if err := s.db.WithContext(ctx).
		Where("deleted = ?", false).
		Order("name").
		Find(&targets).Error; err != nil {
		return nil, err
	}
	return targets, nil
}

// CreateTarget inserts a new backup target, generating an ID when absent.
func (s *Store) CreateTarget(ctx context.Context, target *models.BackupTarget) (string, error) {
	if target.ID == "" {
		target.ID = uuid.New().String()
	}
	if target.Status == "" {
		target.Status = models.TargetStatusAvailable
	}
	now := time.Now()
	target.CreatedAt = now
	target.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(target).Error; err != nil {
		if isUniqueConstraintError(err) {
			return "", models.ErrDuplicateTarget
		}
		return "", err
	}
	return target.ID, nil
}

// UpdateTargetStatus updates the cached availability status of a target.
func (s *Store) UpdateTargetStatus(ctx context.Context, id string, status models.TargetStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.BackupTarget{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTargetNotFound
	}
	return nil
}

// DeleteTarget soft-deletes a backup target. The row is kept so historical
// ledger entries keep resolving; mount requests against it fail lookup.
func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.BackupTarget{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]any{
			"deleted":    true,
			"deleted_at": now,
			"status":     models.TargetStatusDeleting,
			"updated_at": now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTargetNotFound
	}
	return nil
}

// FindTargetByMountPath retrieves the non-deleted target configured with the
// given mount path. Mount paths are the join key between live processes
// discovered on disk and their ledger state.
func (s *Store) FindTargetByMountPath(ctx context.Context, mountPath string) (*models.BackupTarget, error) {
	var target models.BackupTarget
	err := s.db.WithContext(ctx).
		Where("mount_path = ? AND deleted = ?", mountPath, false).
		First(&target).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrTargetNotFound)
	}
	return &target, nil
}
