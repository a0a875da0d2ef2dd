package models

import "testing"

func TestValidateMountPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"absolute path", "/var/lib/mounts/t1", false},
		{"root", "/", false},
		{"empty", "", true},
		{"relative", "mnt/t1", true},
		{"traversal", "/var/lib/../../etc", true},
		{"trailing traversal", "/mnt/..", true},
		{"dotdot in name ok", "/mnt/..weird", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMountPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMountPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNFSExport(t *testing.T) {
	tests := []struct {
		export  string
		wantErr bool
	}{
		{"filer01:/srv/backups", false},
		{"10.0.0.5:/exports/a", false},
		{"no-colon", true},
		{":/path-only", true},
		{"host:", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.export, func(t *testing.T) {
			err := ValidateNFSExport(tt.export)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNFSExport(%q) error = %v, wantErr %v", tt.export, err, tt.wantErr)
			}
		})
	}
}

func TestValidateBucketName(t *testing.T) {
	tests := []struct {
		bucket  string
		wantErr bool
	}{
		{"backups", false},
		{"backup-vault-01", false},
		{"ab", true},
		{"-leading", true},
		{"trailing-", true},
		{"UPPER", true},
		{"under_score", true},
	}

	for _, tt := range tests {
		t.Run(tt.bucket, func(t *testing.T) {
			err := ValidateBucketName(tt.bucket)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBucketName(%q) error = %v, wantErr %v", tt.bucket, err, tt.wantErr)
			}
		})
	}
}

func TestBackupTargetValidate(t *testing.T) {
	netfs := &BackupTarget{Kind: TargetKindNetFS, Export: "filer01:/srv/x", MountPath: "/mnt/t1"}
	if err := netfs.Validate(); err != nil {
		t.Errorf("netfs target: unexpected error %v", err)
	}

	userfs := &BackupTarget{Kind: TargetKindUserFS, Export: "backup-vault", MountPath: "/mnt/t2"}
	if err := userfs.Validate(); err != nil {
		t.Errorf("userfs target: unexpected error %v", err)
	}

	bad := &BackupTarget{Kind: "cifs", Export: "x:/y", MountPath: "/mnt/t3"}
	if err := bad.Validate(); err == nil {
		t.Error("unknown kind: expected error")
	}
}

func TestEffectiveMountOptions(t *testing.T) {
	tgt := &BackupTarget{}
	if got := tgt.EffectiveMountOptions(); got != "defaults" {
		t.Errorf("EffectiveMountOptions() = %q, want %q", got, "defaults")
	}
	tgt.MountOptions = "rw,nolock"
	if got := tgt.EffectiveMountOptions(); got != "rw,nolock" {
		t.Errorf("EffectiveMountOptions() = %q, want %q", got, "rw,nolock")
	}
}

func TestJobActive(t *testing.T) {
	tests := []struct {
		status  JobStatus
		deleted bool
		want    bool
	}{
		{JobStatusStarting, false, true},
		{JobStatusRunning, false, true},
		{JobStatusSucceeded, false, false},
		{JobStatusFailed, false, false},
		{JobStatusCanceled, false, false},
		{JobStatusRunning, true, false},
	}

	for _, tt := range tests {
		j := &Job{Status: tt.status, Deleted: tt.deleted}
		if got := j.Active(); got != tt.want {
			t.Errorf("Job{%s, deleted=%t}.Active() = %t, want %t", tt.status, tt.deleted, got, tt.want)
		}
	}
}
