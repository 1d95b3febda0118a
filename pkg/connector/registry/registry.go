// Package registry maintains the global catalog of connector factories.
// Connector packages register themselves in init functions; the
// assembler resolves config topology entries into live connectors by
// type name. Importing a connector package for its side effects is how
// a binary opts into that connector.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
)

// SourceFactory creates a source from its binding configuration.
type SourceFactory func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Source, error)

// TransformerFactory creates a transformer from its binding configuration.
type TransformerFactory func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Transformer, error)

// DestinationFactory creates a destination from its binding configuration.
type DestinationFactory func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Destination, error)

var (
	mu           sync.RWMutex
	sources      = make(map[string]SourceFactory)
	transformers = make(map[string]TransformerFactory)
	destinations = make(map[string]DestinationFactory)
)

// RegisterSource adds a source factory under the given type name.
// Panics on duplicate registration; registration happens in init
// functions where a duplicate is a programming error.
func RegisterSource(typeName string, factory SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := sources[typeName]; exists {
		panic(fmt.Sprintf("registry: source %q registered twice", typeName))
	}
	sources[typeName] = factory
}

// RegisterTransformer adds a transformer factory under the given type name.
func RegisterTransformer(typeName string, factory TransformerFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := transformers[typeName]; exists {
		panic(fmt.Sprintf("registry: transformer %q registered twice", typeName))
	}
	transformers[typeName] = factory
}

// RegisterDestination adds a destination factory under the given type name.
func RegisterDestination(typeName string, factory DestinationFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := destinations[typeName]; exists {
		panic(fmt.Sprintf("registry: destination %q registered twice", typeName))
	}
	destinations[typeName] = factory
}

// CreateSource instantiates the source registered for cfg.Type.
func CreateSource(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Source, error) {
	mu.RLock()
	factory, ok := sources[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source type %q (registered: %v)", cfg.Type, SourceTypes())
	}
	return factory(cfg, pc)
}

// CreateTransformer instantiates the transformer registered for cfg.Type.
func CreateTransformer(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Transformer, error) {
	mu.RLock()
	factory, ok := transformers[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transformer type %q (registered: %v)", cfg.Type, TransformerTypes())
	}
	return factory(cfg, pc)
}

// CreateDestination instantiates the destination registered for cfg.Type.
func CreateDestination(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Destination, error) {
	mu.RLock()
	factory, ok := destinations[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown destination type %q (registered: %v)", cfg.Type, DestinationTypes())
	}
	return factory(cfg, pc)
}

// SourceTypes returns the registered source type names, sorted.
func SourceTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(sources)
}

// TransformerTypes returns the registered transformer type names, sorted.
func TransformerTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(transformers)
}

// DestinationTypes returns the registered destination type names, sorted.
func DestinationTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(destinations)
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
