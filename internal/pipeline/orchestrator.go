// Package pipeline contains the run engine: the orchestrator wires
// sources, the transform/delivery stage, the checkpoint store, and the
// concurrency limiter into a crash-recoverable at-least-once run.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/conveyr/conveyr/pkg/checkpoint"
	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/dedup"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/metrics"
	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/monitor"
	"github.com/conveyr/conveyr/pkg/retry"
)

// RunResult summarizes a completed (or gracefully stopped) run.
type RunResult struct {
	// Delivered counts items accepted by every required destination.
	Delivered int64
	// Dropped counts items discarded by dedup or a transformer.
	Dropped int64
	// Skipped counts items the checkpoint skip-set filtered on resume.
	Skipped int64
	// Failed counts items whose required delivery failed permanently.
	Failed int64
	// SourceErrors holds the fatal errors that stopped individual sources.
	SourceErrors []error
	// Duration is the wall time of the run.
	Duration time.Duration
}

// Orchestrator owns one pipeline run end to end.
type Orchestrator struct {
	cfg     *config.PipelineConfig
	sources []core.Source
	stage   *Stage
	store   checkpoint.Store
	limiter *Limiter
	monitor monitor.Monitor
	logger  *zap.Logger
}

// NewOrchestrator assembles an orchestrator from already-constructed
// connectors. The dedup filter and retry policy are derived from the
// configuration; store may be a NopStore when persistence is disabled.
func NewOrchestrator(
	cfg *config.PipelineConfig,
	sources []core.Source,
	transformers []core.Transformer,
	destinations []DestinationBinding,
	store checkpoint.Store,
	mon monitor.Monitor,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if len(sources) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "at least one source is required")
	}

	deduper := dedup.NewBloomFilter(cfg.Dedup.Capacity, cfg.Dedup.FalsePositiveRate)
	policy := retry.FromConfig(cfg.Retry)
	stage := NewStage(transformers, destinations, deduper, policy, mon, logger)

	return &Orchestrator{
		cfg:     cfg,
		sources: sources,
		stage:   stage,
		store:   store,
		limiter: NewLimiter(cfg.Concurrency.MaxConcurrentItems),
		monitor: mon,
		logger:  logger.With(zap.String("component", "orchestrator"), zap.String("pipeline", cfg.Name)),
	}, nil
}

// Run executes the pipeline until every source is exhausted or ctx is
// cancelled. Cancellation triggers a graceful stop: no new items are
// admitted, in-flight items get up to the shutdown timeout to finish,
// and the checkpoint is flushed before return. Items still running when
// the timeout expires were never checkpointed and are reprocessed on
// the next run.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	cp, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	o.logger.Info("run starting",
		zap.Int("sources", len(o.sources)),
		zap.Int("resumed_items", len(cp.Processed)),
		zap.Int("max_concurrent_items", o.cfg.Concurrency.MaxConcurrentItems))

	opened, err := o.openDestinations(ctx)
	if err != nil {
		return nil, err
	}
	defer o.closeDestinations(opened)

	var (
		res    runCounters
		itemWG sync.WaitGroup
		srcWG  sync.WaitGroup
	)
	for _, src := range o.sources {
		srcWG.Add(1)
		go func(s core.Source) {
			defer srcWG.Done()
			o.runSource(ctx, s, cp.Cursors[s.Name()], &itemWG, &res)
		}(src)
	}
	srcWG.Wait()

	o.drain(ctx, &itemWG)

	if err := o.store.Close(); err != nil {
		o.logger.Error("final checkpoint flush failed", zap.Error(err))
	} else {
		metrics.CheckpointFlushes.Inc()
	}

	result := res.snapshot()
	result.Duration = time.Since(start)
	o.logger.Info("run finished",
		zap.Int64("delivered", result.Delivered),
		zap.Int64("dropped", result.Dropped),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("failed", result.Failed),
		zap.Int("source_errors", len(result.SourceErrors)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// runSource consumes one source's stream, admitting each item into a
// bounded item pipeline. Sequences are assigned in emission order so the
// cursor watermark can advance over the contiguous completed prefix.
func (o *Orchestrator) runSource(ctx context.Context, src core.Source, cursor string, itemWG *sync.WaitGroup, res *runCounters) {
	name := src.Name()
	log := o.logger.With(zap.String("source", name))

	stream, err := src.Open(ctx, cursor)
	if err != nil {
		log.Error("source failed to open", zap.Error(err))
		o.monitor.SourceFailed(name, err)
		res.addSourceError(err)
		return
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn("source close failed", zap.Error(cerr))
		}
	}()

	tracker := checkpoint.NewCursorTracker()
	throughput := metrics.NewThroughputTracker(name)
	defer throughput.GetAndReset()
	var seq uint64

	items, errs := stream.Items, stream.Errors
	for items != nil || errs != nil {
		select {
		case <-ctx.Done():
			log.Info("source stopping, shutdown requested")
			return

		case item, ok := <-items:
			if !ok {
				items = nil
				continue
			}
			seq++
			item.Source = name
			item.Sequence = seq
			item.EnsureID()

			if o.store.Contains(item.ID) {
				res.skipped.Add(1)
				metrics.ItemsProcessed.WithLabelValues(name, "skipped").Inc()
				o.completeSeq(name, tracker, seq, item.Cursor)
				continue
			}

			if err := o.limiter.Acquire(ctx); err != nil {
				return
			}
			itemWG.Add(1)
			metrics.InFlight.Inc()
			go func(it *models.Item, s uint64) {
				defer itemWG.Done()
				defer o.limiter.Release()
				defer metrics.InFlight.Dec()
				o.processItem(ctx, it, s, tracker, throughput, res)
			}(item, seq)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// Fatal errors and exhausted pull budgets both end the
			// source; surfacing them keeps a truncated run from
			// reporting success. Item-scoped errors are only logged
			// and the stream keeps going.
			if errors.IsFatal(err) || errors.IsExhausted(err) {
				log.Error("source stopped by unrecovered error", zap.Error(err))
				o.monitor.SourceFailed(name, err)
				res.addSourceError(err)
				return
			}
			log.Warn("source reported error", zap.Error(err))
		}
	}
}

// processItem runs one item through the stage and applies the
// checkpoint-after-success rule: only delivered and deliberately
// dropped items are recorded; failed items stay unrecorded so a later
// run replays them.
func (o *Orchestrator) processItem(ctx context.Context, item *models.Item, seq uint64, tracker *checkpoint.CursorTracker, throughput *metrics.ThroughputTracker, res *runCounters) {
	result := o.stage.Process(ctx, item)

	switch result.Outcome {
	case OutcomeDelivered, OutcomeDropped:
		if err := o.store.Record(item.ID); err != nil {
			o.logger.Error("failed to record item",
				zap.String("item_id", item.ID), zap.Error(err))
			res.failed.Add(1)
			return
		}
		o.monitor.ItemCheckpointed(item.Source, item.ID)
		o.completeSeq(item.Source, tracker, seq, item.Cursor)
		if result.Outcome == OutcomeDelivered {
			res.delivered.Add(1)
			throughput.Increment(1)
			metrics.ItemsProcessed.WithLabelValues(item.Source, "processed").Inc()
		} else {
			res.dropped.Add(1)
		}
	case OutcomeFailed:
		res.failed.Add(1)
	}
}

// completeSeq advances the per-source watermark and persists the new
// cursor when the contiguous prefix grew.
func (o *Orchestrator) completeSeq(source string, tracker *checkpoint.CursorTracker, seq uint64, cursor string) {
	if cur, advanced := tracker.Complete(seq, cursor); advanced && cur != "" {
		o.store.SetCursor(source, cur)
	}
}

// drain waits for in-flight item pipelines. On cancellation the wait is
// bounded by the shutdown timeout; abandoned items are simply not
// checkpointed.
func (o *Orchestrator) drain(ctx context.Context, itemWG *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		itemWG.Wait()
		close(done)
	}()

	if ctx.Err() == nil {
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(o.cfg.Concurrency.ShutdownTimeout.Std()):
		o.logger.Warn("shutdown timeout expired, abandoning in-flight items",
			zap.Duration("timeout", o.cfg.Concurrency.ShutdownTimeout.Std()))
	}
}

func (o *Orchestrator) openDestinations(ctx context.Context) ([]core.Destination, error) {
	opened := make([]core.Destination, 0, len(o.stage.destinations))
	for _, b := range o.stage.destinations {
		if err := b.Destination.Open(ctx); err != nil {
			o.closeDestinations(opened)
			return nil, errors.Wrapf(err, errors.ErrorTypeConnection,
				"failed to open destination %s", b.Destination.Name())
		}
		opened = append(opened, b.Destination)
	}
	return opened, nil
}

func (o *Orchestrator) closeDestinations(opened []core.Destination) {
	for _, d := range opened {
		if err := d.Close(); err != nil {
			o.logger.Warn("destination close failed",
				zap.String("destination", d.Name()), zap.Error(err))
		}
	}
}

// runCounters accumulates run statistics across item goroutines.
type runCounters struct {
	delivered atomic.Int64
	dropped   atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64

	mu         sync.Mutex
	sourceErrs []error
}

func (c *runCounters) addSourceError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourceErrs = append(c.sourceErrs, err)
}

func (c *runCounters) snapshot() *RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &RunResult{
		Delivered:    c.delivered.Load(),
		Dropped:      c.dropped.Load(),
		Skipped:      c.skipped.Load(),
		Failed:       c.failed.Load(),
		SourceErrors: append([]error(nil), c.sourceErrs...),
	}
}
