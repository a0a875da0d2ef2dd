package models

import "time"

// LedgerSchemaVersion tags rows so future migrations can tell entry
// generations apart.
const LedgerSchemaVersion = "1.0"

// MountLedgerEntry records that one job uses one target on one node.
//
// The (JobID, TargetID, NodeID) triple is the logical identity; ID is a
// surrogate key. Rows are soft-deleted on unmount and never removed, so
// the ledger doubles as a mount history. Mounted mirrors the last observed
// physical state; the active-job count derived from non-deleted rows is
// the actual refcount.
type MountLedgerEntry struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Version   string     `gorm:"not null;default:1.0;size:8" json:"version"`
	TargetID  string     `gorm:"column:backup_target_id;not null;size:36;index:idx_ledger_target_node" json:"target_id"`
	JobID     uint64     `gorm:"column:jobid;not null;index" json:"job_id"`
	NodeID    string     `gorm:"column:node_id;not null;size:255;index:idx_ledger_target_node" json:"node_id"`
	Mounted   bool       `gorm:"not null;default:false" json:"mounted"`
	Deleted   bool       `gorm:"not null;default:false;index" json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for MountLedgerEntry.
func (MountLedgerEntry) TableName() string {
	return "backup_target_mount_ledger"
}
