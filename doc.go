// Package conveyr is a crash-recoverable pipeline engine that moves
// items from pluggable sources through a transformer chain to one or
// more destinations.
//
// A run is driven by a single YAML configuration naming the topology and
// tuning four orthogonal behaviors:
//
//   - Bounded concurrency: at most N item pipelines are in flight at
//     once, enforced with a weighted semaphore, so a fast source cannot
//     overrun a slow destination.
//
//   - Retry with classification: transient failures (timeouts,
//     connection resets, throttling) are retried with backoff; permanent
//     failures surface immediately; exhausting the budget is reported
//     distinctly from either.
//
//   - Dedup: a Bloom filter sized from the configured capacity and
//     false-positive rate drops repeated item identities with no false
//     negatives.
//
//   - Checkpointing: fully processed item identifiers and per-source
//     resume cursors are flushed atomically (write temp, fsync, rename)
//     every N items. A restarted run reloads the checkpoint, skips what
//     was done, and resumes each source from its cursor.
//
// Delivery is at-least-once: an item is recorded as processed only after
// every required destination accepted it, so a crash between delivery
// and flush causes redelivery, never loss.
//
// # Quick Start
//
// Describe a pipeline in YAML:
//
//	name: orders
//	concurrency:
//	  max_concurrent_items: 10
//	sources:
//	  - type: csv
//	    options: {path: orders.csv}
//	transformers:
//	  - type: uppercase
//	destinations:
//	  - type: jsonl
//	    required: true
//	    options: {path: orders.jsonl}
//
// and run it:
//
//	conveyr run --config pipeline.yaml
//
// # Package Layout
//
//   - internal/pipeline: orchestrator, stage pipeline, limiter
//   - pkg/connector: capability interfaces, registry, built-in connectors
//   - pkg/checkpoint: durable progress store and cursor watermark
//   - pkg/dedup: Bloom filter
//   - pkg/retry: classified retry policy
//   - pkg/config, pkg/errors, pkg/logger, pkg/metrics, pkg/models,
//     pkg/monitor: shared infrastructure
package conveyr
