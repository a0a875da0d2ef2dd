// Package models defines the persistent entities the mount service works
// with: backup targets, jobs, and the mount ledger. Targets and jobs are
// owned by external tooling; the daemon only ever writes ledger rows.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&BackupTarget{},
		&Job{},
		&MountLedgerEntry{},
	}
}
