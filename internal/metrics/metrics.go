package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugin_hook_events_enqueued_total",
			Help: "Total number of hook events enqueued by producers.",
		},
		[]string{"hook"},
	)

	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugin_hook_sends_total",
			Help: "Total number of hook send attempts by result.",
		},
		[]string{"hook", "result"}, // result: ok, unavailable, error
	)

	RequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plugin_hook_requeued_total",
			Help: "Total number of hook events put back on the queue after the daemon was unavailable.",
		},
	)

	DroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugin_hook_dropped_total",
			Help: "Total number of hook events dropped after a non-retryable error.",
		},
		[]string{"hook"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plugin_hook_queue_depth",
			Help: "Approximate number of hook events waiting for delivery.",
		},
	)

	Connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plugin_hook_connected",
			Help: "1 if the plugin daemon channel is connected, 0 otherwise.",
		},
	)

	SendLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plugin_hook_send_latency_seconds",
			Help:    "Latency of hook RPCs to the plugin daemon.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8), // 0.5ms .. ~8s
		},
		[]string{"hook"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsEnqueuedTotal,
		SendsTotal,
		RequeuedTotal,
		DroppedTotal,
		QueueDepth,
		Connected,
		SendLatencySeconds,
	)
}

// RecordEnqueued counts one producer call for the given hook
func RecordEnqueued(hook string) {
	EventsEnqueuedTotal.WithLabelValues(hook).Inc()
}

// RecordSend counts a send attempt and observes its latency
func RecordSend(hook, result string, latency time.Duration) {
	SendsTotal.WithLabelValues(hook, result).Inc()
	SendLatencySeconds.WithLabelValues(hook).Observe(latency.Seconds())
}

// RecordRequeued counts events returned to the queue
func RecordRequeued(n int) {
	RequeuedTotal.Add(float64(n))
}

// RecordDropped counts an event discarded after a non-retryable error
func RecordDropped(hook string) {
	DroppedTotal.WithLabelValues(hook).Inc()
}

// UpdateQueueDepth sets the queue depth gauge
func UpdateQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

// SetConnected records the last observed channel state
func SetConnected(ok bool) {
	if ok {
		Connected.Set(1)
		return
	}
	Connected.Set(0)
}
