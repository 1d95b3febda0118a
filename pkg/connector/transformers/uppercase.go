// Package transformers provides the built-in item transformers. Each
// registers itself under its type name; a transformer returns nil to
// drop an item and an error classified by the errors package otherwise.
package transformers

import (
	"context"
	"strings"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterTransformer("uppercase", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Transformer, error) {
		return &Uppercase{name: cfg.BindingName()}, nil
	})
}

// Uppercase folds every string value (and the raw payload) to upper case.
type Uppercase struct {
	name string
}

// Name implements core.Transformer.
func (t *Uppercase) Name() string { return t.name }

// Process implements core.Transformer.
func (t *Uppercase) Process(ctx context.Context, item *models.Item) (*models.Item, error) {
	out := item.Clone()
	for k, v := range out.Data {
		if s, ok := v.(string); ok {
			out.Data[k] = strings.ToUpper(s)
		}
	}
	if len(out.Raw) > 0 {
		out.Raw = []byte(strings.ToUpper(string(out.Raw)))
	}
	return out, nil
}
