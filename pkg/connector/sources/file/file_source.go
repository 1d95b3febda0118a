// Package file provides a line-oriented file source. Each line becomes
// one raw item; the resume cursor is the byte offset just past the line,
// so a resumed run continues mid-file without rereading.
//
// Files above the multipart threshold are read through a chunk-sized
// buffer instead of the default one, which keeps memory flat on
// multi-gigabyte inputs.
package file

import (
	"bufio"
	"context"
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
	registry.RegisterSource("file", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Source, error) {
		path := cfg.Option("path", "")
		if path == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "file source requires a path option")
		}
		return &Source{
			name:      cfg.BindingName(),
			path:      path,
			multipart: pc.Multipart,
		}, nil
	})
}

// Source reads a local file line by line.
type Source struct {
	name      string
	path      string
	multipart config.MultipartConfig

	file *os.File
}

// Name implements core.Source.
func (s *Source) Name() string { return s.name }

// Open implements core.Source. cursor is "offset:<bytes>" or empty.
func (s *Source) Open(ctx context.Context, cursor string) (*core.ItemStream, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to open %s", s.path)
	}
	s.file = f

	offset, err := parseOffset(cursor)
	if err != nil {
		f.Close()
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, errors.ErrorTypeData, "failed to seek to resume offset %d", offset)
		}
	}

	reader := s.newReader(f)
	items := make(chan *models.Item)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		log := logger.Get().With(zap.String("source", s.name), zap.String("path", s.path))
		pos := offset
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				pos += int64(len(line))
				trimmed := strings.TrimRight(string(line), "\r\n")
				if trimmed != "" {
					item := models.NewRaw(s.name, []byte(trimmed))
					item.Cursor = fmt.Sprintf("offset:%d", pos)
					select {
					case items <- item:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF {
					errs <- errors.Wrap(err, errors.ErrorTypeData, "read failed")
				}
				log.Debug("file exhausted", zap.Int64("bytes", pos))
				return
			}
		}
	}()

	return &core.ItemStream{Items: items, Errors: errs}, nil
}

// newReader sizes the read buffer: chunk-sized for large files when
// multipart reads are enabled, default otherwise.
func (s *Source) newReader(f *os.File) *bufio.Reader {
	if s.multipart.Enabled && s.multipart.ChunkSize > 0 {
		if info, err := f.Stat(); err == nil && info.Size() >= s.multipart.Threshold {
			return bufio.NewReaderSize(f, s.multipart.ChunkSize)
		}
	}
	return bufio.NewReader(f)
}

// Close implements core.Source.
func (s *Source) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func parseOffset(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(cursor, "offset:")
	if !ok {
		return 0, errors.Newf(errors.ErrorTypeData, "malformed file cursor %q", cursor)
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || offset < 0 {
		return 0, errors.Newf(errors.ErrorTypeData, "malformed file cursor %q", cursor)
	}
	return offset, nil
}
