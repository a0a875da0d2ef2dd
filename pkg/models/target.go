package models

import (
	"path/filepath"
	"strings"
	"time"
)

// TargetKind identifies how a backup target is mounted.
type TargetKind string

const (
	// TargetKindNetFS is a kernel network filesystem mount (NFS).
	TargetKindNetFS TargetKind = "netfs"
	// TargetKindUserFS is a user-space filesystem served by a child process
	// (object storage exposed through a FUSE-style binary).
	TargetKindUserFS TargetKind = "userfs"
)

// TargetStatus is the administrative state of a backup target.
type TargetStatus string

const (
	TargetStatusAvailable   TargetStatus = "available"
	TargetStatusUnavailable TargetStatus = "unavailable"
	TargetStatusDeleting    TargetStatus = "deleting"
)

// BackupTarget describes one mountable backup destination.
//
// For NetFS targets Export is "server:/path" and MountOptions carries the
// mount(8) -o string. For UserFS targets Export is the bucket name and
// CredentialRef points at the secret-store record holding the driver
// credentials. Targets are registered by the admin CLI; the daemon treats
// the table as read-only.
type BackupTarget struct {
	ID            string       `gorm:"primaryKey;size:36" json:"id"`
	Name          string       `gorm:"uniqueIndex;not null;size:255" json:"name"`
	Kind          TargetKind   `gorm:"not null;size:16" json:"kind"`
	Export        string       `gorm:"not null;size:1024" json:"export"`
	MountPath     string       `gorm:"not null;size:1024" json:"mount_path"`
	MountOptions  string       `gorm:"size:512" json:"mount_options,omitempty"`
	CredentialRef string       `gorm:"size:1024" json:"credential_ref,omitempty"`
	Status        TargetStatus `gorm:"not null;default:available;size:16" json:"status"`
	Deleted       bool         `gorm:"not null;default:false;index" json:"deleted"`
	DeletedAt     *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for BackupTarget.
func (BackupTarget) TableName() string {
	return "backup_targets"
}

// EffectiveMountOptions returns the mount(8) options for a NetFS target,
// falling back to "defaults" when none were registered.
func (t *BackupTarget) EffectiveMountOptions() string {
	if t.MountOptions == "" {
		return "defaults"
	}
	return t.MountOptions
}

// Validate checks the target fields that the daemon depends on.
func (t *BackupTarget) Validate() error {
	if err := ValidateMountPath(t.MountPath); err != nil {
		return err
	}
	switch t.Kind {
	case TargetKindNetFS:
		return ValidateNFSExport(t.Export)
	case TargetKindUserFS:
		return ValidateBucketName(t.Export)
	default:
		return &ValidationError{Field: "kind", Reason: "must be netfs or userfs"}
	}
}

// ValidationError describes a rejected target field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// ValidateMountPath requires an absolute path with no parent-directory
// traversal. Mount paths become mkdir/mount arguments, so anything relative
// or escaping is rejected outright.
func ValidateMountPath(path string) error {
	if path == "" || !filepath.IsAbs(path) {
		return &ValidationError{Field: "mount_path", Reason: "must be an absolute path"}
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return &ValidationError{Field: "mount_path", Reason: "must not contain parent-directory traversal"}
		}
	}
	return nil
}

// ValidateNFSExport checks the "server:/path" export syntax.
func ValidateNFSExport(export string) error {
	host, path, ok := strings.Cut(export, ":")
	if !ok || host == "" || path == "" {
		return &ValidationError{Field: "export", Reason: "must be host:/path"}
	}
	return nil
}

// ValidateBucketName enforces S3 bucket naming: 3-63 characters, lowercase
// alphanumerics and hyphens, starting and ending with an alphanumeric.
func ValidateBucketName(bucket string) error {
	if len(bucket) < 3 || len(bucket) > 63 {
		return &ValidationError{Field: "export", Reason: "bucket name must be 3-63 characters"}
	}
	for i := 0; i < len(bucket); i++ {
		c := bucket[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' && i > 0 && i < len(bucket)-1:
		default:
			return &ValidationError{Field: "export", Reason: "bucket name must be lowercase alphanumerics and interior hyphens"}
		}
	}
	return nil
}
