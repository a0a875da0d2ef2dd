package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// opContextKey is the key for OpContext in context.Context
var opContextKey = contextKey{}

// OpContext holds operation-scoped logging context. The dispatcher builds
// one per consumed message so every log line of a mount/unmount carries the
// same identifiers.
type OpContext struct {
	Operation     string    // mount, unmount, reconcile
	JobID         uint64    // requesting job
	TargetID      string    // backup target being mounted
	NodeID        string    // node handling the request
	CorrelationID string    // broker correlation id, if any
	StartTime     time.Time // for duration calculation
}

// WithContext returns a new context carrying the given OpContext.
func WithContext(ctx context.Context, oc *OpContext) context.Context {
	return context.WithValue(ctx, opContextKey, oc)
}

// FromContext retrieves the OpContext from context, or nil if not present.
func FromContext(ctx context.Context) *OpContext {
	if ctx == nil {
		return nil
	}
	oc, _ := ctx.Value(opContextKey).(*OpContext)
	return oc
}

// NewOpContext creates an OpContext for the given operation.
func NewOpContext(operation string) *OpContext {
	return &OpContext{
		Operation: operation,
		StartTime: time.Now(),
	}
}

// DurationMs returns the duration since StartTime in milliseconds.
func (oc *OpContext) DurationMs() float64 {
	if oc == nil || oc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(oc.StartTime).Microseconds()) / 1000.0
}
