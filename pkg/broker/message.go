// Package broker carries mount and unmount requests between job nodes and
// the daemon over an AMQP queue. Each daemon consumes exactly one queue,
// named after its node, and replies on the caller's reply queue using the
// request's correlation id.
package broker

import (
	"fmt"
	"time"
)

// Operation names accepted on the wire.
const (
	OpMount   = "mount"
	OpUnmount = "unmount"
)

// DefaultQueuePrefix is the queue name prefix when none is configured.
const DefaultQueuePrefix = "dms.ops"

// MessageTTL is how long an unconsumed request may sit in the queue before
// the broker drops it. A request older than this serves nobody: the job
// that sent it has long since timed out.
const MessageTTL = time.Hour

// QueueName returns the per-node request queue name.
func QueueName(prefix, nodeID string) string {
	if prefix == "" {
		prefix = DefaultQueuePrefix
	}
	return prefix + "." + nodeID
}

// Request is the JSON body of a mount or unmount message. Correlation id
// and reply queue ride in the AMQP message properties, not the body.
type Request struct {
	Operation string `json:"operation"`
	JobID     uint64 `json:"job_id"`
	TargetID  string `json:"target_id"`
	Token     string `json:"token,omitempty"`
	NodeID    string `json:"node_id"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Validate checks the fields every operation requires. Token presence is
// deliberately not checked here: the verifier decides whether an empty
// token is acceptable.
func (r *Request) Validate() error {
	switch r.Operation {
	case OpMount, OpUnmount:
	case "":
		return fmt.Errorf("missing operation")
	default:
		return fmt.Errorf("unknown operation %q", r.Operation)
	}
	if r.JobID == 0 {
		return fmt.Errorf("missing job_id")
	}
	if r.TargetID == "" {
		return fmt.Errorf("missing target_id")
	}
	if r.NodeID == "" {
		return fmt.Errorf("missing node_id")
	}
	return nil
}

// Reply is the JSON body published to the caller's reply queue. The
// pointer fields are operation-specific: mount replies carry
// reused_existing and physically_mounted, unmount replies carry
// physically_unmounted and active_mounts_remaining. request_node_id is
// set only on node-mismatch rejections.
type Reply struct {
	Success               bool   `json:"success"`
	Message               string `json:"message"`
	MountPath             string `json:"mount_path,omitempty"`
	ReusedExisting        *bool  `json:"reused_existing,omitempty"`
	PhysicallyMounted     *bool  `json:"physically_mounted,omitempty"`
	PhysicallyUnmounted   *bool  `json:"physically_unmounted,omitempty"`
	ActiveMountsRemaining *int64 `json:"active_mounts_remaining,omitempty"`
	ServerNodeID          string `json:"server_node_id"`
	RequestNodeID         string `json:"request_node_id,omitempty"`
}

// WasReused reports whether a mount reply indicates the target was already
// mounted for another job.
func (r *Reply) WasReused() bool {
	return r != nil && r.ReusedExisting != nil && *r.ReusedExisting
}

// DidMount reports whether a mount reply indicates a physical attach
// happened (as opposed to a ledger-only join).
func (r *Reply) DidMount() bool {
	return r != nil && r.PhysicallyMounted != nil && *r.PhysicallyMounted
}

// DidUnmount reports whether an unmount reply indicates a physical detach
// happened.
func (r *Reply) DidUnmount() bool {
	return r != nil && r.PhysicallyUnmounted != nil && *r.PhysicallyUnmounted
}

// Remaining returns the active mount count left after an unmount, or -1
// when the reply does not carry one.
func (r *Reply) Remaining() int64 {
	if r == nil || r.ActiveMountsRemaining == nil {
		return -1
	}
	return *r.ActiveMountsRemaining
}
