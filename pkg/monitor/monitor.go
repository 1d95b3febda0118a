// Package monitor defines the observer collaborator that receives
// structured pipeline events and numeric metrics. The engine calls it at
// every item transition but never depends on a concrete implementation;
// a Monitor handle is passed explicitly through construction, not held
// in a process-wide singleton.
package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conveyr/conveyr/pkg/metrics"
)

// DropReason explains why an item left the pipeline without delivery.
type DropReason string

const (
	// DropDuplicate marks an item the dedup stage flagged as seen.
	DropDuplicate DropReason = "duplicate"
	// DropFiltered marks an item a transformer deliberately discarded.
	DropFiltered DropReason = "filtered"
	// DropMalformed marks an item that failed permanent validation.
	DropMalformed DropReason = "malformed"
)

// Monitor receives pipeline events. Implementations must be safe for
// concurrent use by all in-flight item pipelines.
type Monitor interface {
	// ItemAccepted fires when an item enters the transform stage.
	ItemAccepted(source, itemID string)
	// ItemDropped fires when a transformer discards an item.
	ItemDropped(source, itemID string, reason DropReason)
	// ItemRetried fires on every retry attempt of a stage operation.
	ItemRetried(operation, target string, attempt int, err error)
	// ItemFailed fires when an item is marked failed (required
	// destination exhausted its retries).
	ItemFailed(source, itemID string, err error)
	// ItemCheckpointed fires after the item id is recorded as processed.
	ItemCheckpointed(source, itemID string)
	// SourceFailed fires when a source stops with a fatal error.
	SourceFailed(source string, err error)
	// ObserveLatency records one item's full pipeline latency.
	ObserveLatency(source string, d time.Duration)
}

// LogMonitor logs events through zap and feeds the Prometheus collectors.
type LogMonitor struct {
	logger        *zap.Logger
	enableMetrics bool
}

// NewLogMonitor creates the production monitor.
func NewLogMonitor(logger *zap.Logger, enableMetrics bool) *LogMonitor {
	return &LogMonitor{
		logger:        logger.With(zap.String("component", "monitor")),
		enableMetrics: enableMetrics,
	}
}

// ItemAccepted implements Monitor.
func (m *LogMonitor) ItemAccepted(source, itemID string) {
	m.logger.Debug("item accepted", zap.String("source", source), zap.String("item_id", itemID))
}

// ItemDropped implements Monitor.
func (m *LogMonitor) ItemDropped(source, itemID string, reason DropReason) {
	m.logger.Debug("item dropped",
		zap.String("source", source),
		zap.String("item_id", itemID),
		zap.String("reason", string(reason)))
	if m.enableMetrics {
		metrics.ItemsProcessed.WithLabelValues(source, "dropped").Inc()
	}
}

// ItemRetried implements Monitor.
func (m *LogMonitor) ItemRetried(operation, target string, attempt int, err error) {
	m.logger.Warn("operation retried",
		zap.String("operation", operation),
		zap.String("target", target),
		zap.Int("attempt", attempt),
		zap.Error(err))
	if m.enableMetrics {
		metrics.Retries.WithLabelValues(operation, target).Inc()
	}
}

// ItemFailed implements Monitor.
func (m *LogMonitor) ItemFailed(source, itemID string, err error) {
	m.logger.Error("item failed",
		zap.String("source", source),
		zap.String("item_id", itemID),
		zap.Error(err))
	if m.enableMetrics {
		metrics.ItemsProcessed.WithLabelValues(source, "failed").Inc()
	}
}

// ItemCheckpointed implements Monitor.
func (m *LogMonitor) ItemCheckpointed(source, itemID string) {
	m.logger.Debug("item checkpointed", zap.String("source", source), zap.String("item_id", itemID))
}

// SourceFailed implements Monitor.
func (m *LogMonitor) SourceFailed(source string, err error) {
	m.logger.Error("source failed", zap.String("source", source), zap.Error(err))
}

// ObserveLatency implements Monitor.
func (m *LogMonitor) ObserveLatency(source string, d time.Duration) {
	if m.enableMetrics {
		metrics.StageLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

// Recorder is an in-memory Monitor for tests. It captures events so
// assertions can inspect the exact sequence the engine emitted.
type Recorder struct {
	mu           sync.Mutex
	Accepted     []string
	Dropped      map[string]DropReason
	Retried      int
	Failed       []string
	Checkpointed []string
	SourceErrors []error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{Dropped: make(map[string]DropReason)}
}

// ItemAccepted implements Monitor.
func (r *Recorder) ItemAccepted(source, itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Accepted = append(r.Accepted, itemID)
}

// ItemDropped implements Monitor.
func (r *Recorder) ItemDropped(source, itemID string, reason DropReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Dropped[itemID] = reason
}

// ItemRetried implements Monitor.
func (r *Recorder) ItemRetried(operation, target string, attempt int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Retried++
}

// ItemFailed implements Monitor.
func (r *Recorder) ItemFailed(source, itemID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = append(r.Failed, itemID)
}

// ItemCheckpointed implements Monitor.
func (r *Recorder) ItemCheckpointed(source, itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Checkpointed = append(r.Checkpointed, itemID)
}

// SourceFailed implements Monitor.
func (r *Recorder) SourceFailed(source string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SourceErrors = append(r.SourceErrors, err)
}

// ObserveLatency implements Monitor.
func (r *Recorder) ObserveLatency(source string, d time.Duration) {}

// Snapshot returns copies of the captured event lists.
func (r *Recorder) Snapshot() (accepted, failed, checkpointed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Accepted...),
		append([]string(nil), r.Failed...),
		append([]string(nil), r.Checkpointed...)
}

// Nop is a Monitor that discards everything.
type Nop struct{}

// ItemAccepted implements Monitor.
func (Nop) ItemAccepted(string, string) {}

// ItemDropped implements Monitor.
func (Nop) ItemDropped(string, string, DropReason) {}

// ItemRetried implements Monitor.
func (Nop) ItemRetried(string, string, int, error) {}

// ItemFailed implements Monitor.
func (Nop) ItemFailed(string, string, error) {}

// ItemCheckpointed implements Monitor.
func (Nop) ItemCheckpointed(string, string) {}

// SourceFailed implements Monitor.
func (Nop) SourceFailed(string, error) {}

// ObserveLatency implements Monitor.
func (Nop) ObserveLatency(string, time.Duration) {}
