package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()
	MustRegister(reg)

	// Record some values so metrics appear in Gather()
	RecordEnqueued("START")
	RecordSend("START", "ok", 2*time.Millisecond)
	RecordRequeued(1)
	RecordDropped("END")
	UpdateQueueDepth(3)
	SetConnected(true)

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	expectedMetrics := []string{
		"plugin_hook_events_enqueued_total",
		"plugin_hook_sends_total",
		"plugin_hook_requeued_total",
		"plugin_hook_dropped_total",
		"plugin_hook_queue_depth",
		"plugin_hook_connected",
		"plugin_hook_send_latency_seconds",
	}

	registered := make(map[string]bool)
	for _, mf := range metricFamilies {
		registered[mf.GetName()] = true
	}
	for _, expected := range expectedMetrics {
		if !registered[expected] {
			t.Errorf("Expected metric %s not found in registry", expected)
		}
	}
}

func TestRecordEnqueued(t *testing.T) {
	EventsEnqueuedTotal.Reset()

	tests := []struct {
		name  string
		hook  string
		calls int
	}{
		{name: "single start", hook: "START", calls: 1},
		{name: "several ends", hook: "END", calls: 4},
		{name: "monitor", hook: "JOB_MONITOR", calls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordEnqueued(tt.hook)
			}
			got := testutil.ToFloat64(EventsEnqueuedTotal.WithLabelValues(tt.hook))
			if got != float64(tt.calls) {
				t.Errorf("RecordEnqueued() counter = %f, want %d", got, tt.calls)
			}
		})
	}
}

func TestRecordSend(t *testing.T) {
	SendsTotal.Reset()
	SendLatencySeconds.Reset()

	RecordSend("END", "ok", 10*time.Millisecond)
	RecordSend("END", "ok", 20*time.Millisecond)
	RecordSend("END", "unavailable", time.Millisecond)

	if got := testutil.ToFloat64(SendsTotal.WithLabelValues("END", "ok")); got != 2 {
		t.Errorf("ok sends = %f, want 2", got)
	}
	if got := testutil.ToFloat64(SendsTotal.WithLabelValues("END", "unavailable")); got != 1 {
		t.Errorf("unavailable sends = %f, want 1", got)
	}
	if n := testutil.CollectAndCount(SendLatencySeconds); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestRequeuedAndDropped(t *testing.T) {
	before := testutil.ToFloat64(RequeuedTotal)
	RecordRequeued(3)
	RecordRequeued(0)
	if got := testutil.ToFloat64(RequeuedTotal) - before; got != 3 {
		t.Errorf("requeued delta = %f, want 3", got)
	}

	DroppedTotal.Reset()
	RecordDropped("JOB_MONITOR")
	if got := testutil.ToFloat64(DroppedTotal.WithLabelValues("JOB_MONITOR")); got != 1 {
		t.Errorf("dropped = %f, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	tests := []struct {
		name      string
		depth     int
		connected bool
		wantConn  float64
	}{
		{name: "connected with backlog", depth: 12, connected: true, wantConn: 1},
		{name: "disconnected empty", depth: 0, connected: false, wantConn: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			UpdateQueueDepth(tt.depth)
			SetConnected(tt.connected)
			if got := testutil.ToFloat64(QueueDepth); got != float64(tt.depth) {
				t.Errorf("queue depth = %f, want %d", got, tt.depth)
			}
			if got := testutil.ToFloat64(Connected); got != tt.wantConn {
				t.Errorf("connected = %f, want %f", got, tt.wantConn)
			}
		})
	}
}
