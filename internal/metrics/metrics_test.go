package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.Requests == nil || m.Replies == nil || m.CursorPosition == nil {
		t.Error("metric not initialised")
	}
}

func TestRecordRequestAndDiscard(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordRequest()
	m.RecordRequest()
	m.RecordDiscard()
	m.RecordParseError()

	if got := testutil.ToFloat64(m.Requests); got != 2 {
		t.Errorf("Requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Discarded); got != 1 {
		t.Errorf("Discarded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ParseErrors); got != 1 {
		t.Errorf("ParseErrors = %v, want 1", got)
	}
}

func TestRecordReply(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordReply(0, 0, 84, 0.0001)
	m.RecordReply(3, 13, 56, 0.0002)
	m.RecordReply(3, 13, 56, 0.0002)

	if got := testutil.ToFloat64(m.Replies.WithLabelValues("0", "0")); got != 1 {
		t.Errorf("Replies{0,0} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Replies.WithLabelValues("3", "13")); got != 2 {
		t.Errorf("Replies{3,13} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReplyBytes); got != 196 {
		t.Errorf("ReplyBytes = %v, want 196", got)
	}
	if got := testutil.CollectAndCount(m.ProcessLatency); got != 1 {
		t.Errorf("ProcessLatency series = %d, want 1", got)
	}
}

func TestRecordErrorsAndCursor(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordSendError()
	m.RecordPanic()
	m.SetCursor(7)

	if got := testutil.ToFloat64(m.SendErrors); got != 1 {
		t.Errorf("SendErrors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Panics); got != 1 {
		t.Errorf("Panics = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CursorPosition); got != 7 {
		t.Errorf("CursorPosition = %v, want 7", got)
	}
}

func TestDefault_Singleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different instances")
	}
}
