package pipeline

import (
	"go.uber.org/zap"

	"github.com/conveyr/conveyr/pkg/checkpoint"
	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/monitor"
)

// FromConfig assembles a full orchestrator from the configuration
// topology, resolving every connector binding through the registry.
// The checkpoint store is file-backed unless the checkpoint path is
// empty, in which case progress is tracked in memory only.
func FromConfig(cfg *config.PipelineConfig, mon monitor.Monitor, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid pipeline configuration")
	}

	sources := make([]core.Source, 0, len(cfg.Sources))
	for i := range cfg.Sources {
		src, err := registry.CreateSource(&cfg.Sources[i], cfg)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create source")
		}
		sources = append(sources, src)
	}

	transformers := make([]core.Transformer, 0, len(cfg.Transformers))
	for i := range cfg.Transformers {
		tr, err := registry.CreateTransformer(&cfg.Transformers[i], cfg)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create transformer")
		}
		transformers = append(transformers, tr)
	}

	destinations := make([]DestinationBinding, 0, len(cfg.Destinations))
	for i := range cfg.Destinations {
		dst, err := registry.CreateDestination(&cfg.Destinations[i], cfg)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create destination")
		}
		destinations = append(destinations, DestinationBinding{
			Destination: dst,
			Required:    cfg.Destinations[i].Required,
		})
	}

	var store checkpoint.Store
	if cfg.Checkpoint.Path != "" {
		store = checkpoint.NewFileStore(cfg.Checkpoint.Path, cfg.Checkpoint.Frequency, logger)
	} else {
		store = checkpoint.NewNopStore()
	}

	return NewOrchestrator(cfg, sources, transformers, destinations, store, mon, logger)
}
