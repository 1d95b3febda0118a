// Package csv provides a CSV file source. The header row names the
// columns; each data row becomes one structured item. The resume cursor
// is the 1-based data-row index of the last emitted row.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/logger"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterSource("csv", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Source, error) {
		path := cfg.Option("path", "")
		if path == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "csv source requires a path option")
		}
		delimiter := cfg.Option("delimiter", ",")
		if len([]rune(delimiter)) != 1 {
			return nil, errors.Newf(errors.ErrorTypeConfig, "delimiter must be one character, got %q", delimiter)
		}
		return &Source{
			name:      cfg.BindingName(),
			path:      path,
			delimiter: []rune(delimiter)[0],
		}, nil
	})
}

// Source reads a headered CSV file into structured items.
type Source struct {
	name      string
	path      string
	delimiter rune

	file *os.File
}

// Name implements core.Source.
func (s *Source) Name() string { return s.name }

// Open implements core.Source. cursor is "row:<n>" or empty.
func (s *Source) Open(ctx context.Context, cursor string) (*core.ItemStream, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to open %s", s.path)
	}
	s.file = f

	skip, err := parseRow(cursor)
	if err != nil {
		f.Close()
		return nil, err
	}

	reader := csv.NewReader(f)
	reader.Comma = s.delimiter
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, errors.Newf(errors.ErrorTypeData, "%s is empty, expected a header row", s.path)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read header")
	}

	items := make(chan *models.Item)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		log := logger.Get().With(zap.String("source", s.name), zap.String("path", s.path))
		row := 0
		for {
			record, err := reader.Read()
			if err == io.EOF {
				log.Debug("csv exhausted", zap.Int("rows", row))
				return
			}
			if err != nil {
				// A bad row is item-scoped; report it and keep reading.
				errs <- errors.Wrapf(err, errors.ErrorTypeData, "bad csv row %d", row+1)
				continue
			}
			row++
			if row <= skip {
				continue
			}

			data := make(map[string]interface{}, len(header))
			for i, col := range header {
				if i < len(record) {
					data[col] = record[i]
				}
			}
			item := models.New(s.name, data)
			item.Cursor = fmt.Sprintf("row:%d", row)
			select {
			case items <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &core.ItemStream{Items: items, Errors: errs}, nil
}

// Close implements core.Source.
func (s *Source) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func parseRow(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(cursor, "row:")
	if !ok {
		return 0, errors.Newf(errors.ErrorTypeData, "malformed csv cursor %q", cursor)
	}
	row, err := strconv.Atoi(raw)
	if err != nil || row < 0 {
		return 0, errors.Newf(errors.ErrorTypeData, "malformed csv cursor %q", cursor)
	}
	return row, nil
}
