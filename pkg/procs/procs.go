// Package procs tracks the user-space filesystem processes this daemon
// spawns on behalf of backup targets.
//
// Each child is recorded in memory and mirrored to a PID file named after
// its target, so a restarted daemon can re-discover children that outlived
// it. The registry never kills processes during shutdown; surviving
// children are adopted back on the next start.
package procs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/mountd/internal/logger"
)

// Record describes one tracked user-space filesystem process.
type Record struct {
	TargetID  string    `json:"target_id"`
	PID       int       `json:"pid"`
	MountPath string    `json:"mount_path"`
	Binary    string    `json:"binary"`
	StartedAt time.Time `json:"started_at"`

	// AdoptedFromDisk marks records rebuilt from PID files after a
	// restart rather than spawned by this daemon instance.
	AdoptedFromDisk bool `json:"adopted_from_disk"`
}

// Registry is the in-memory process table, keyed by target ID.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	pidDir  string
	records map[string]*Record
}

// NewRegistry creates a registry persisting PID files under pidDir,
// creating the directory if needed.
func NewRegistry(pidDir string) (*Registry, error) {
	if pidDir == "" {
		return nil, fmt.Errorf("pid directory is required")
	}
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pid directory: %w", err)
	}
	return &Registry{
		pidDir:  pidDir,
		records: make(map[string]*Record),
	}, nil
}

// PIDDir returns the directory holding PID files.
func (r *Registry) PIDDir() string {
	return r.pidDir
}

// PIDFilePath returns the PID file path for a target.
func (r *Registry) PIDFilePath(targetID string) string {
	return filepath.Join(r.pidDir, targetID+".pid")
}

// Register records a spawned process and writes its PID file. An existing
// record for the target is overwritten; its PID file is rewritten too.
func (r *Registry) Register(rec Record) error {
	if rec.TargetID == "" {
		return fmt.Errorf("record target ID is required")
	}
	if rec.PID <= 0 {
		return fmt.Errorf("invalid pid %d for target %s", rec.PID, rec.TargetID)
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	path := r.PIDFilePath(rec.TargetID)
	if err := os.WriteFile(path, []byte(strconv.Itoa(rec.PID)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write pid file %s: %w", path, err)
	}

	r.mu.Lock()
	r.records[rec.TargetID] = &rec
	r.mu.Unlock()

	logger.Debug("registered user-fs process",
		"target_id", rec.TargetID,
		"pid", rec.PID,
		"pid_file", path)
	return nil
}

// Release drops the in-memory record and removes the PID file. Releasing
// an unknown target is not an error; the PID file is removed regardless.
func (r *Registry) Release(targetID string) error {
	r.mu.Lock()
	delete(r.records, targetID)
	r.mu.Unlock()

	path := r.PIDFilePath(targetID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file %s: %w", path, err)
	}
	return nil
}

// releaseLocked is Release for callers already holding the mutex.
func (r *Registry) releaseLocked(targetID string) {
	delete(r.records, targetID)
	if err := os.Remove(r.PIDFilePath(targetID)); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove pid file", "target_id", targetID, "error", err)
	}
}

// Lookup returns a copy of the record for a target.
func (r *Registry) Lookup(targetID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[targetID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// LookupOrLoad returns the record for a target, falling back to its PID
// file when the in-memory table lost it. A live PID found on disk is
// re-registered as adopted; a dead one has its file removed.
func (r *Registry) LookupOrLoad(targetID string) (Record, bool) {
	if rec, ok := r.Lookup(targetID); ok {
		return rec, true
	}

	path := r.PIDFilePath(targetID)
	pid, err := readPIDFile(path)
	if err != nil {
		return Record{}, false
	}
	if !pidAlive(pid) {
		_ = os.Remove(path)
		return Record{}, false
	}

	rec := Record{
		TargetID:        targetID,
		PID:             pid,
		StartedAt:       time.Now(),
		AdoptedFromDisk: true,
	}
	r.mu.Lock()
	r.records[targetID] = &rec
	r.mu.Unlock()

	logger.Info("recovered tracked process from pid file",
		"target_id", targetID, "pid", pid)
	return rec, true
}

// FindByMountPath returns the record whose child serves mountPath.
func (r *Registry) FindByMountPath(mountPath string) (Record, bool) {
	if mountPath == "" {
		return Record{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.MountPath == mountPath {
			return *rec, true
		}
	}
	return Record{}, false
}

// Snapshot returns a copy of every record, for status reporting.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// Count returns the number of tracked processes.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// readPIDFile parses the ASCII decimal PID stored at path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s: non-positive pid %d", path, pid)
	}
	return pid, nil
}
