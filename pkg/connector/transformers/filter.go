package transformers

import (
	"context"
	"strings"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterTransformer("filter", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Transformer, error) {
		raw := cfg.Option("keywords", "")
		if raw == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "filter transformer requires a keywords option")
		}
		mode := cfg.Option("mode", "keep")
		if mode != "keep" && mode != "drop" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "filter mode must be keep or drop, got %q", mode)
		}
		keywords := strings.Split(raw, ",")
		for i := range keywords {
			keywords[i] = strings.ToLower(strings.TrimSpace(keywords[i]))
		}
		return &Filter{
			name:     cfg.BindingName(),
			keywords: keywords,
			keep:     mode == "keep",
		}, nil
	})
}

// Filter drops items based on keyword matching over the payload. In
// keep mode only matching items pass; in drop mode matching items are
// discarded. Matching is case-insensitive.
type Filter struct {
	name     string
	keywords []string
	keep     bool
}

// Name implements core.Transformer.
func (t *Filter) Name() string { return t.name }

// Process implements core.Transformer.
func (t *Filter) Process(ctx context.Context, item *models.Item) (*models.Item, error) {
	if t.matches(item) == t.keep {
		return item, nil
	}
	return nil, nil
}

func (t *Filter) matches(item *models.Item) bool {
	var b strings.Builder
	b.Write(item.Raw)
	for _, v := range item.Data {
		if s, ok := v.(string); ok {
			b.WriteByte(' ')
			b.WriteString(s)
		}
	}
	haystack := strings.ToLower(b.String())
	for _, kw := range t.keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
