package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/dedup"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/metrics"
	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/monitor"
	"github.com/conveyr/conveyr/pkg/retry"
)

// DestinationBinding pairs a destination with its delivery contract.
// A required destination must accept the item before it can be
// checkpointed; a best-effort destination may fail without blocking
// progress.
type DestinationBinding struct {
	Destination core.Destination
	Required    bool
}

// Outcome is the terminal state of one item's trip through the stage.
type Outcome int

const (
	// OutcomeDelivered means every required destination accepted the item.
	OutcomeDelivered Outcome = iota
	// OutcomeDropped means a stage discarded the item deliberately.
	// Dropped items still count as processed.
	OutcomeDropped
	// OutcomeFailed means a required operation failed permanently or
	// exhausted its retries. Failed items are not checkpointed and will
	// be reprocessed on the next run.
	OutcomeFailed
)

// Result describes how an item left the stage.
type Result struct {
	Outcome Outcome
	Reason  monitor.DropReason
	Err     error
}

// Stage runs one item through dedup, the transformer chain, and the
// destination fanout. A single Stage instance serves all in-flight item
// pipelines concurrently.
type Stage struct {
	transformers []core.Transformer
	destinations []DestinationBinding
	deduper      *dedup.BloomFilter
	retry        *retry.Policy
	monitor      monitor.Monitor
	logger       *zap.Logger
}

// NewStage assembles a stage. deduper may be nil to disable the dedup
// pass (the checkpoint skip-set still prevents cross-run duplicates).
func NewStage(
	transformers []core.Transformer,
	destinations []DestinationBinding,
	deduper *dedup.BloomFilter,
	policy *retry.Policy,
	mon monitor.Monitor,
	logger *zap.Logger,
) *Stage {
	return &Stage{
		transformers: transformers,
		destinations: destinations,
		deduper:      deduper,
		retry:        policy,
		monitor:      mon,
		logger:       logger.With(zap.String("component", "stage")),
	}
}

// Process runs one item to a terminal outcome. It never panics on a
// misbehaving connector error; classification decides retry and outcome.
func (s *Stage) Process(ctx context.Context, item *models.Item) Result {
	timer := metrics.NewTimer()
	defer func() {
		s.monitor.ObserveLatency(item.Source, timer.Stop())
	}()

	s.monitor.ItemAccepted(item.Source, item.ID)

	if s.deduper != nil && s.deduper.TestAndAdd(item.ID) {
		s.monitor.ItemDropped(item.Source, item.ID, monitor.DropDuplicate)
		return Result{Outcome: OutcomeDropped, Reason: monitor.DropDuplicate}
	}

	out, res, done := s.transform(ctx, item)
	if done {
		return res
	}

	if err := s.deliver(ctx, out); err != nil {
		s.monitor.ItemFailed(item.Source, item.ID, err)
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	return Result{Outcome: OutcomeDelivered}
}

// transform runs the chain. The third return is true when the item
// reached a terminal state inside the chain (dropped or failed).
func (s *Stage) transform(ctx context.Context, item *models.Item) (*models.Item, Result, bool) {
	out := item
	for _, tr := range s.transformers {
		var next *models.Item
		attempt := 0
		err := s.retry.Execute(ctx, func() error {
			attempt++
			if attempt > 1 {
				s.monitor.ItemRetried("transform", tr.Name(), attempt, nil)
			}
			var perr error
			next, perr = tr.Process(ctx, out)
			return perr
		})
		if err != nil {
			if errors.IsPermanent(err) {
				// Malformed data gains nothing from reprocessing; drop
				// it so the run can move past it.
				s.logger.Warn("transformer rejected item",
					zap.String("transformer", tr.Name()),
					zap.String("item_id", item.ID),
					zap.Error(err))
				s.monitor.ItemDropped(item.Source, item.ID, monitor.DropMalformed)
				return nil, Result{Outcome: OutcomeDropped, Reason: monitor.DropMalformed, Err: err}, true
			}
			s.monitor.ItemFailed(item.Source, item.ID, err)
			return nil, Result{Outcome: OutcomeFailed, Err: err}, true
		}
		if next == nil {
			s.monitor.ItemDropped(item.Source, item.ID, monitor.DropFiltered)
			return nil, Result{Outcome: OutcomeDropped, Reason: monitor.DropFiltered}, true
		}
		out = next
	}
	return out, Result{}, false
}

// deliver fans the item out to every destination concurrently. It
// returns an error only when a required destination ultimately failed;
// best-effort failures are logged and swallowed.
func (s *Stage) deliver(ctx context.Context, item *models.Item) error {
	if len(s.destinations) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, binding := range s.destinations {
		wg.Add(1)
		go func(b DestinationBinding) {
			defer wg.Done()

			attempt := 0
			err := s.retry.Execute(ctx, func() error {
				attempt++
				if attempt > 1 {
					s.monitor.ItemRetried("destination_send", b.Destination.Name(), attempt, nil)
				}
				return b.Destination.Send(ctx, item)
			})
			if err == nil {
				return
			}

			if !b.Required {
				s.logger.Warn("best-effort destination failed",
					zap.String("destination", b.Destination.Name()),
					zap.String("item_id", item.ID),
					zap.Error(err))
				return
			}
			mu.Lock()
			if firstErr == nil {
				firstErr = errors.Wrapf(err, errors.TypeOf(err),
					"required destination %s rejected item %s", b.Destination.Name(), item.ID)
			}
			mu.Unlock()
		}(binding)
	}
	wg.Wait()
	return firstErr
}
