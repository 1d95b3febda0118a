package transformers

import (
	"context"
	"encoding/csv"
	"strings"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterTransformer("csv_to_map", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Transformer, error) {
		raw := cfg.Option("columns", "")
		if raw == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "csv_to_map transformer requires a columns option")
		}
		columns := strings.Split(raw, ",")
		for i := range columns {
			columns[i] = strings.TrimSpace(columns[i])
		}
		return &CSVToMap{name: cfg.BindingName(), columns: columns}, nil
	})
}

// CSVToMap parses a raw CSV line into structured data using a fixed
// column list, for pipelines fed by line-oriented sources.
type CSVToMap struct {
	name    string
	columns []string
}

// Name implements core.Transformer.
func (t *CSVToMap) Name() string { return t.name }

// Process implements core.Transformer. A row with the wrong field count
// is a permanent data error: the stage drops it as malformed.
func (t *CSVToMap) Process(ctx context.Context, item *models.Item) (*models.Item, error) {
	record, err := csv.NewReader(strings.NewReader(string(item.Raw))).Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "unparseable csv line")
	}
	if len(record) != len(t.columns) {
		return nil, errors.Newf(errors.ErrorTypeData,
			"expected %d fields, got %d", len(t.columns), len(record))
	}

	out := item.Clone()
	out.Raw = nil
	out.Data = make(map[string]interface{}, len(t.columns))
	for i, col := range t.columns {
		out.Data[col] = record[i]
	}
	return out, nil
}
