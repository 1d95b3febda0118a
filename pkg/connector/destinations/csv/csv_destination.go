// Package csv provides a CSV file destination. The column set is fixed
// at configuration time; each item contributes one row with missing
// fields left empty and unknown fields ignored.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterDestination("csv", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Destination, error) {
		path := cfg.Option("path", "")
		if path == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "csv destination requires a path option")
		}
		raw := cfg.Option("columns", "")
		if raw == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "csv destination requires a columns option")
		}
		columns := strings.Split(raw, ",")
		for i := range columns {
			columns[i] = strings.TrimSpace(columns[i])
		}
		return &Destination{
			name:    cfg.BindingName(),
			path:    path,
			columns: columns,
		}, nil
	})
}

// Destination appends items as CSV rows.
type Destination struct {
	name    string
	path    string
	columns []string

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// Name implements core.Destination.
func (d *Destination) Name() string { return d.name }

// Open implements core.Destination. The header row is written only when
// the file starts empty, so restarted runs keep appending cleanly.
func (d *Destination) Open(ctx context.Context) error {
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfig, "failed to open %s", d.path)
	}
	d.file = f
	d.writer = csv.NewWriter(f)

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrorTypeConfig, "stat failed")
	}
	if info.Size() == 0 {
		if err := d.writer.Write(d.columns); err != nil {
			f.Close()
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write header")
		}
		d.writer.Flush()
	}
	return d.writer.Error()
}

// Send implements core.Destination.
func (d *Destination) Send(ctx context.Context, item *models.Item) error {
	row := make([]string, len(d.columns))
	for i, col := range d.columns {
		if v, ok := item.Data[col]; ok {
			row[i] = fmt.Sprintf("%v", v)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return errors.New(errors.ErrorTypeInternal, "destination not open")
	}
	if err := d.writer.Write(row); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "write failed")
	}
	d.writer.Flush()
	return d.writer.Error()
}

// Close implements core.Destination.
func (d *Destination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	d.writer.Flush()
	if err := d.writer.Error(); err != nil {
		d.file.Close()
		return err
	}
	err := d.file.Close()
	d.file, d.writer = nil, nil
	return err
}
