// Package jsonl provides a JSON Lines file destination with optional
// gzip compression. Writes are append-only and serialized, so a
// best-effort and a required pipeline can share one process safely.
package jsonl

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterDestination("jsonl", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Destination, error) {
		path := cfg.Option("path", "")
		if path == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "jsonl destination requires a path option")
		}
		return &Destination{
			name:     cfg.BindingName(),
			path:     path,
			compress: cfg.Option("compress", "") == "gzip",
		}, nil
	})
}

// record is the line layout written per item.
type record struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Raw       string                 `json:"raw,omitempty"`
}

// Destination appends one JSON object per item to a file.
type Destination struct {
	name     string
	path     string
	compress bool

	mu   sync.Mutex
	file *os.File
	gz   *gzip.Writer
	buf  *bufio.Writer
	out  io.Writer
}

// Name implements core.Destination.
func (d *Destination) Name() string { return d.name }

// Open implements core.Destination.
func (d *Destination) Open(ctx context.Context) error {
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfig, "failed to open %s", d.path)
	}
	d.file = f
	d.buf = bufio.NewWriter(f)
	d.out = d.buf
	if d.compress {
		d.gz = gzip.NewWriter(d.buf)
		d.out = d.gz
	}
	return nil
}

// Send implements core.Destination.
func (d *Destination) Send(ctx context.Context, item *models.Item) error {
	line, err := json.Marshal(record{
		ID:        item.ID,
		Source:    item.Source,
		Timestamp: item.Timestamp.UnixMilli(),
		Data:      item.Data,
		Raw:       string(item.Raw),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "item not serializable")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out == nil {
		return errors.New(errors.ErrorTypeInternal, "destination not open")
	}
	if _, err := d.out.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "write failed")
	}
	return nil
}

// Close implements core.Destination.
func (d *Destination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	if d.gz != nil {
		if err := d.gz.Close(); err != nil {
			d.file.Close()
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to finish gzip stream")
		}
	}
	if err := d.buf.Flush(); err != nil {
		d.file.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "flush failed")
	}
	err := d.file.Close()
	d.file, d.out = nil, nil
	return err
}
