package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAnalysis(t *testing.T) {
	m := New(prometheus.NewRegistry())
	in, out := 120, 30

	m.RecordAnalysis("ok", time.Second, &in, &out)
	m.RecordAnalysis("empty", time.Millisecond, nil, nil)

	if got := testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok analyses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues("input")); got != 120 {
		t.Errorf("input tokens = %v, want 120", got)
	}
	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues("output")); got != 30 {
		t.Errorf("output tokens = %v, want 30", got)
	}
}

func TestTaskStartedGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := m.TaskStarted()
	if got := testutil.ToFloat64(m.TasksInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.TasksInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTick("analysis", time.Second)
	m.RecordSkippedTick("analysis")
	m.RecordChatTask("analysis", "ok")
	m.RecordAnalysis("ok", time.Second, nil, nil)
	m.RecordDelivery("sent")
	m.TaskStarted()()
}
