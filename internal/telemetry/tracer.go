package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for mount operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Operation attributes
	// ========================================================================
	AttrOperation = "op.name"     // mount, unmount, reconcile
	AttrJobID     = "job.id"      // scheduler job id
	AttrTargetID  = "target.id"   // backup target id
	AttrKind      = "target.kind" // netfs, userfs
	AttrMountPath = "mount.path"
	AttrNodeID    = "node.id"

	// ========================================================================
	// Outcome attributes
	// ========================================================================
	AttrSuccess   = "op.success"
	AttrErrorKind = "op.error_kind" // classified failure kind
	AttrReused    = "op.reused_existing"
	AttrPhysical  = "op.physical" // request touched the kernel/child
	AttrRemaining = "op.active_remaining"

	// ========================================================================
	// Broker attributes
	// ========================================================================
	AttrQueue         = "broker.queue"
	AttrCorrelationID = "broker.correlation_id"
	AttrRedelivered   = "broker.redelivered"

	// ========================================================================
	// Credential / storage backend attributes
	// ========================================================================
	AttrCredentialRef = "creds.ref"
	AttrBucket        = "storage.bucket"
	AttrRegion        = "storage.region"
)

// Span names.
// Format: <component>.<operation>
const (
	// Root span for one queued request, from decode to reply.
	SpanRequest = "ops.request"

	SpanOpMount   = "ops.mount"
	SpanOpUnmount = "ops.unmount"

	// Reconciler spans
	SpanReconcilePass   = "reconcile.pass"
	SpanReconcileTarget = "reconcile.target"
	SpanReconcileAdopt  = "reconcile.adopt"

	// Driver spans
	SpanDriverMount   = "driver.mount"
	SpanDriverUnmount = "driver.unmount"

	// Credential fetch span
	SpanCredsFetch = "creds.fetch"
)

// Operation returns an attribute for the operation name
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// JobID returns an attribute for the job id
func JobID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrJobID, int64(id))
}

// TargetID returns an attribute for the target id
func TargetID(id string) attribute.KeyValue {
	return attribute.String(AttrTargetID, id)
}

// Kind returns an attribute for the target kind
func Kind(kind string) attribute.KeyValue {
	return attribute.String(AttrKind, kind)
}

// MountPath returns an attribute for the mount path
func MountPath(path string) attribute.KeyValue {
	return attribute.String(AttrMountPath, path)
}

// NodeID returns an attribute for the node id
func NodeID(id string) attribute.KeyValue {
	return attribute.String(AttrNodeID, id)
}

// Success returns an attribute for the operation outcome
func Success(ok bool) attribute.KeyValue {
	return attribute.Bool(AttrSuccess, ok)
}

// ErrorKind returns an attribute for the classified failure kind
func ErrorKind(kind string) attribute.KeyValue {
	return attribute.String(AttrErrorKind, kind)
}

// Reused returns an attribute for idempotent mount reuse
func Reused(reused bool) attribute.KeyValue {
	return attribute.Bool(AttrReused, reused)
}

// Physical returns an attribute for whether the request attached or
// detached a filesystem, as opposed to only moving the ledger
func Physical(physical bool) attribute.KeyValue {
	return attribute.Bool(AttrPhysical, physical)
}

// Remaining returns an attribute for the active claims left after an
// unmount
func Remaining(n int64) attribute.KeyValue {
	return attribute.Int64(AttrRemaining, n)
}

// Queue returns an attribute for the broker queue name
func Queue(name string) attribute.KeyValue {
	return attribute.String(AttrQueue, name)
}

// CorrelationID returns an attribute for the request correlation id
func CorrelationID(id string) attribute.KeyValue {
	return attribute.String(AttrCorrelationID, id)
}

// Redelivered returns an attribute for broker redelivery
func Redelivered(redelivered bool) attribute.KeyValue {
	return attribute.Bool(AttrRedelivered, redelivered)
}

// CredentialRef returns an attribute for the secret-store reference
func CredentialRef(ref string) attribute.KeyValue {
	return attribute.String(AttrCredentialRef, ref)
}

// Bucket returns an attribute for an object-storage bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// Region returns an attribute for a cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartOpSpan starts a span for a mount or unmount operation.
// This is a convenience function that sets common attributes.
func StartOpSpan(ctx context.Context, operation string, jobID uint64, targetID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Operation(operation),
		JobID(jobID),
		TargetID(targetID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "ops."+operation, trace.WithAttributes(allAttrs...))
}

// StartDriverSpan starts a span for a filesystem driver call.
func StartDriverSpan(ctx context.Context, action, kind, mountPath string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Kind(kind),
		MountPath(mountPath),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "driver."+action, trace.WithAttributes(allAttrs...))
}

// StartReconcileSpan starts a span for a reconciliation pass or a single
// target within one.
func StartReconcileSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}
