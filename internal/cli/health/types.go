// Package health provides shared types for decoding daemon status endpoints.
package health

import "encoding/json"

// Response is the envelope the daemon's HTTP API wraps every body in.
// Data stays raw so callers can decode it into the shape the endpoint
// actually served.
type Response struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// StatusData is the payload of GET /status.
type StatusData struct {
	NodeID        string `json:"node_id"`
	Version       string `json:"version"`
	Queue         string `json:"queue"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	Targets         int   `json:"targets"`
	MountedTargets  int   `json:"mounted_targets"`
	ActiveJobs      int64 `json:"active_jobs"`
	Inconsistencies int   `json:"inconsistencies"`
}
