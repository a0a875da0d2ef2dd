package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestOpsMetrics_NilSafe(t *testing.T) {
	// All methods on a nil *OpsMetrics must not panic.
	var m *OpsMetrics

	m.RecordOperation("mount", true, time.Second)
	m.RecordOperation("unmount", false, time.Second)
	m.RecordPhysicalMount("nfs")
	m.RecordPhysicalUnmount("s3")
	m.SetActiveMounts(3)
	m.RecordLockWait(time.Millisecond)
	m.RecordMessage("handled")
	m.RecordReconcile(true)
	m.RecordAdoptions(2)
}

func TestOpsMetrics_RecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordOperation("mount", true, 10*time.Millisecond)
	m.RecordOperation("mount", true, 20*time.Millisecond)
	m.RecordOperation("mount", false, 5*time.Millisecond)
	m.RecordOperation("unmount", true, 15*time.Millisecond)

	if got := counterValue(t, m.Operations, "mount", "success"); got != 2 {
		t.Errorf("Operations{mount,success} = %f, want 2", got)
	}
	if got := counterValue(t, m.Operations, "mount", "failure"); got != 1 {
		t.Errorf("Operations{mount,failure} = %f, want 1", got)
	}
	if got := counterValue(t, m.Operations, "unmount", "success"); got != 1 {
		t.Errorf("Operations{unmount,success} = %f, want 1", got)
	}
}

func TestOpsMetrics_PhysicalMountGauge(t *testing.T) {
	// New is a singleton, so reuse the instance registered by the first test.
	m := New(prometheus.NewRegistry())

	m.SetActiveMounts(0)
	m.RecordPhysicalMount("nfs")
	m.RecordPhysicalMount("s3")
	m.RecordPhysicalUnmount("nfs")

	var metric io_prometheus_client.Metric
	if err := m.ActiveMounts.Write(&metric); err != nil {
		t.Fatalf("Write gauge: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 1 {
		t.Errorf("ActiveMounts = %f, want 1", got)
	}

	if got := counterValue(t, m.PhysicalMounts, "nfs", "mount"); got != 1 {
		t.Errorf("PhysicalMounts{nfs,mount} = %f, want 1", got)
	}
	if got := counterValue(t, m.PhysicalMounts, "nfs", "unmount"); got != 1 {
		t.Errorf("PhysicalMounts{nfs,unmount} = %f, want 1", got)
	}
}

func TestOpsMetrics_RecordMessage(t *testing.T) {
	m := New(nil)

	m.RecordMessage("handled")
	m.RecordMessage("handled")
	m.RecordMessage("wrong_node")
	m.RecordMessage("malformed")

	if got := counterValue(t, m.Messages, "handled"); got < 2 {
		t.Errorf("Messages{handled} = %f, want >= 2", got)
	}
	if got := counterValue(t, m.Messages, "wrong_node"); got < 1 {
		t.Errorf("Messages{wrong_node} = %f, want >= 1", got)
	}
}

// counterValue extracts the value from a CounterVec for the given labels.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	var metric io_prometheus_client.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}
