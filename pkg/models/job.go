package models

import "time"

// JobStatus is the lifecycle state of a backup/restore job.
type JobStatus string

const (
	JobStatusStarting  JobStatus = "starting"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// ActiveJobStatuses is the sole definition of "active" for reference
// counting: only jobs in these states hold a mount.
var ActiveJobStatuses = []JobStatus{JobStatusStarting, JobStatusRunning}

// Job is a backup/restore workload tracked by the external job system.
// The mount service reads this table to decide whether a ledger row still
// pins its mount; it never writes jobs.
type Job struct {
	JobID     uint64     `gorm:"primaryKey;column:jobid" json:"job_id"`
	Status    JobStatus  `gorm:"not null;size:16;index" json:"status"`
	Action    string     `gorm:"size:64" json:"action,omitempty"`
	Deleted   bool       `gorm:"not null;default:false;index" json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// Active reports whether the job pins mounts.
func (j *Job) Active() bool {
	if j.Deleted {
		return false
	}
	return j.Status == JobStatusStarting || j.Status == JobStatusRunning
}
