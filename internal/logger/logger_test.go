package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")
	defer InitWithWriter(&buf, "INFO", "text")

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Error("debug message should be filtered at WARN level")
	}
	if strings.Contains(out, "info message") {
		t.Error("info message should be filtered at WARN level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("warn message missing from output")
	}
	if !strings.Contains(out, "error message") {
		t.Error("error message missing from output")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")
	defer InitWithWriter(&buf, "INFO", "text")

	Info("mount completed", "target_id", "t1", "job_id", 42)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "mount completed" {
		t.Errorf("msg = %v, want %q", record["msg"], "mount completed")
	}
	if record["target_id"] != "t1" {
		t.Errorf("target_id = %v, want %q", record["target_id"], "t1")
	}
}

func TestTextFormatAttrs(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Info("unmount", "mount_path", "/mnt/t1", "active_jobs", 2)

	out := buf.String()
	if !strings.Contains(out, "mount_path=/mnt/t1") {
		t.Errorf("missing mount_path attr in %q", out)
	}
	if !strings.Contains(out, "active_jobs=2") {
		t.Errorf("missing active_jobs attr in %q", out)
	}
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	SetLevel("NOISY")
	Info("still info")

	if !strings.Contains(buf.String(), "still info") {
		t.Error("invalid SetLevel must not change the current level")
	}
}

func TestOpContextFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	oc := NewOpContext("mount")
	oc.JobID = 7
	oc.TargetID = "t1"
	oc.NodeID = "node-a"
	ctx := WithContext(context.Background(), oc)

	InfoCtx(ctx, "driver invoked")

	out := buf.String()
	for _, want := range []string{"operation=mount", "job_id=7", "target_id=t1", "node_id=node-a"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestFromContextNil(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext on empty context = %v, want nil", got)
	}
	var nilCtx context.Context
	if got := FromContext(nilCtx); got != nil {
		t.Errorf("FromContext(nil) = %v, want nil", got)
	}
}

func TestOpContextDurationMs(t *testing.T) {
	var oc *OpContext
	if got := oc.DurationMs(); got != 0 {
		t.Errorf("nil OpContext DurationMs = %f, want 0", got)
	}

	oc = NewOpContext("unmount")
	if got := oc.DurationMs(); got < 0 {
		t.Errorf("DurationMs = %f, want >= 0", got)
	}
}
