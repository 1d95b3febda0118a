package transformers

import (
	"context"
	"strconv"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/dedup"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterTransformer("dedup", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Transformer, error) {
		capacity := pc.Dedup.Capacity
		if raw := cfg.Option("capacity", ""); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return nil, errors.Newf(errors.ErrorTypeConfig, "invalid capacity %q", raw)
			}
			capacity = n
		}
		fpRate := pc.Dedup.FalsePositiveRate
		if raw := cfg.Option("false_positive_rate", ""); raw != "" {
			p, err := strconv.ParseFloat(raw, 64)
			if err != nil || p <= 0 || p >= 1 {
				return nil, errors.Newf(errors.ErrorTypeConfig, "invalid false_positive_rate %q", raw)
			}
			fpRate = p
		}
		return &Dedup{
			name:   cfg.BindingName(),
			filter: dedup.NewBloomFilter(capacity, fpRate),
		}, nil
	})
}

// Dedup drops items whose content was already seen this run. Unlike the
// engine's identity-based pass it keys on the content hash, so it also
// catches duplicates that arrived under different identifiers, for
// example the same payload replayed by two sources.
type Dedup struct {
	name   string
	filter *dedup.BloomFilter
}

// Name implements core.Transformer.
func (t *Dedup) Name() string { return t.name }

// Process implements core.Transformer.
func (t *Dedup) Process(ctx context.Context, item *models.Item) (*models.Item, error) {
	probe := item.Clone()
	probe.ID = ""
	if t.filter.TestAndAdd(probe.EnsureID()) {
		return nil, nil
	}
	return item, nil
}
