// Package metrics provides Prometheus collectors for pipeline
// observability: item throughput, stage latency, retry and failure
// counts, and the in-flight pipeline gauge.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsProcessed counts items whose full pipeline completed.
	// Labels: source, status (processed/dropped/failed/skipped).
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyr_items_total",
			Help: "Total items by terminal status",
		},
		[]string{"source", "status"},
	)

	// Retries counts retry attempts by operation.
	// Labels: operation (source_pull/transform/destination_send), target.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyr_retries_total",
			Help: "Total retry attempts",
		},
		[]string{"operation", "target"},
	)

	// CheckpointFlushes counts durable checkpoint writes.
	CheckpointFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conveyr_checkpoint_flushes_total",
			Help: "Total checkpoint flushes",
		},
	)

	// InFlight tracks concurrently active item pipelines.
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conveyr_inflight_item_pipelines",
			Help: "Currently active item pipelines",
		},
	)

	// StageLatency tracks per-item pipeline latency in seconds.
	// Labels: source.
	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conveyr_item_latency_seconds",
			Help:    "Full item pipeline latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"source"},
	)

	// Throughput tracks items per second per source.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conveyr_throughput_items_per_second",
			Help: "Current throughput in items per second",
		},
		[]string{"source"},
	)
)

// Timer measures one operation's duration.
type Timer struct {
	start time.Time
}

// NewTimer starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker computes items/second over reset windows and feeds
// the Throughput gauge. Safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	source    string
}

// NewThroughputTracker creates a tracker labeled with the source name.
func NewThroughputTracker(source string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		source:    source,
	}
}

// Increment adds n to the item count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput, updates the Prometheus
// gauge, resets the window, and returns the computed value.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.source).Set(throughput)
	return throughput
}
