package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "mountd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, NodeID("node-a"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("Operation", func(t *testing.T) {
		attr := Operation("mount")
		assert.Equal(t, AttrOperation, string(attr.Key))
		assert.Equal(t, "mount", attr.Value.AsString())
	})

	t.Run("JobID", func(t *testing.T) {
		attr := JobID(12345)
		assert.Equal(t, AttrJobID, string(attr.Key))
		assert.Equal(t, int64(12345), attr.Value.AsInt64())
	})

	t.Run("TargetID", func(t *testing.T) {
		attr := TargetID("b3e9bb41-1b9f-4d0e-8f6c-0a1b2c3d4e5f")
		assert.Equal(t, AttrTargetID, string(attr.Key))
		assert.Equal(t, "b3e9bb41-1b9f-4d0e-8f6c-0a1b2c3d4e5f", attr.Value.AsString())
	})

	t.Run("Kind", func(t *testing.T) {
		attr := Kind("netfs")
		assert.Equal(t, AttrKind, string(attr.Key))
		assert.Equal(t, "netfs", attr.Value.AsString())
	})

	t.Run("MountPath", func(t *testing.T) {
		attr := MountPath("/var/mountd/alpha")
		assert.Equal(t, AttrMountPath, string(attr.Key))
		assert.Equal(t, "/var/mountd/alpha", attr.Value.AsString())
	})

	t.Run("NodeID", func(t *testing.T) {
		attr := NodeID("node-a")
		assert.Equal(t, AttrNodeID, string(attr.Key))
		assert.Equal(t, "node-a", attr.Value.AsString())
	})

	t.Run("Success", func(t *testing.T) {
		attr := Success(true)
		assert.Equal(t, AttrSuccess, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("ErrorKind", func(t *testing.T) {
		attr := ErrorKind("mount_failed")
		assert.Equal(t, AttrErrorKind, string(attr.Key))
		assert.Equal(t, "mount_failed", attr.Value.AsString())
	})

	t.Run("Reused", func(t *testing.T) {
		attr := Reused(true)
		assert.Equal(t, AttrReused, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("Physical", func(t *testing.T) {
		attr := Physical(false)
		assert.Equal(t, AttrPhysical, string(attr.Key))
		assert.False(t, attr.Value.AsBool())
	})

	t.Run("Remaining", func(t *testing.T) {
		attr := Remaining(2)
		assert.Equal(t, AttrRemaining, string(attr.Key))
		assert.Equal(t, int64(2), attr.Value.AsInt64())
	})

	t.Run("Queue", func(t *testing.T) {
		attr := Queue("dms.ops.node-a")
		assert.Equal(t, AttrQueue, string(attr.Key))
		assert.Equal(t, "dms.ops.node-a", attr.Value.AsString())
	})

	t.Run("CorrelationID", func(t *testing.T) {
		attr := CorrelationID("corr-1")
		assert.Equal(t, AttrCorrelationID, string(attr.Key))
		assert.Equal(t, "corr-1", attr.Value.AsString())
	})

	t.Run("Redelivered", func(t *testing.T) {
		attr := Redelivered(true)
		assert.Equal(t, AttrRedelivered, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("CredentialRef", func(t *testing.T) {
		attr := CredentialRef("https://secrets.example.com/v1/secrets/alpha")
		assert.Equal(t, AttrCredentialRef, string(attr.Key))
		assert.Equal(t, "https://secrets.example.com/v1/secrets/alpha", attr.Value.AsString())
	})

	t.Run("Bucket", func(t *testing.T) {
		attr := Bucket("my-bucket")
		assert.Equal(t, AttrBucket, string(attr.Key))
		assert.Equal(t, "my-bucket", attr.Value.AsString())
	})

	t.Run("Region", func(t *testing.T) {
		attr := Region("eu-west-1")
		assert.Equal(t, AttrRegion, string(attr.Key))
		assert.Equal(t, "eu-west-1", attr.Value.AsString())
	})
}

func TestStartOpSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartOpSpan(ctx, "mount", 42, "target-1")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartOpSpan(ctx, "unmount", 42, "target-1", NodeID("node-a"), Redelivered(true))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartDriverSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartDriverSpan(ctx, "mount", "netfs", "/var/mountd/alpha")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	newCtx2, span2 := StartDriverSpan(ctx, "unmount", "userfs", "/var/mountd/bravo", Bucket("bravo-bucket"))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartReconcileSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartReconcileSpan(ctx, SpanReconcilePass, NodeID("node-a"))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
