package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/marmos91/mountd/pkg/models"
)

// ============================================
// JOB OPERATIONS
// ============================================
//
// Jobs are created by the workload manager, not by this daemon. The store
// only reads them for ref-counting, except for UpsertJob which exists so
// test-mount and the test suite can seed synthetic jobs.

// GetJob retrieves a non-deleted job by its numeric ID.
func (s *Store) GetJob(ctx context.Context, jobID uint64) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).
		Where("jobid = ? AND deleted = ?", jobID, false).
		First(&job).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrJobNotFound)
	}
	return &job, nil
}

// UpsertJob inserts a job row or updates its status and action if the ID
// already exists.
func (s *Store) UpsertJob(ctx context.Context, job *models.Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "jobid"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "action", "deleted", "updated_at"}),
		}).
		Create(job).Error
}

// SetJobStatus updates the status of an existing job.
func (s *Store) SetJobStatus(ctx context.Context, jobID uint64, status models.JobStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("jobid = ?", jobID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}
