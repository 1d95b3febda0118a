// Package checkpoint provides durable, crash-consistent progress tracking
// for pipeline runs. A checkpoint records the set of fully processed item
// identifiers, one opaque resume cursor per source, and a monotonically
// increasing sequence counter. Persistence is atomic from the reader's
// perspective: state is written to a temp file and renamed into place, so
// a reader never observes a partially written checkpoint.
package checkpoint

import (
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/conveyr/conveyr/pkg/errors"
)

// Checkpoint is the persisted state of a run.
type Checkpoint struct {
	// Sequence increases by one on every flush.
	Sequence uint64 `json:"sequence"`
	// Cursors holds one opaque resume cursor per source. The store never
	// interprets cursor values.
	Cursors map[string]string `json:"cursors,omitempty"`
	// Processed is the set of fully processed item identifiers.
	Processed []string `json:"processed"`
}

// Empty returns a checkpoint with no progress.
func Empty() *Checkpoint {
	return &Checkpoint{Cursors: map[string]string{}}
}

// Store persists and reloads pipeline progress. Implementations must be
// safe for concurrent use by item pipelines completing out of order.
type Store interface {
	// Load returns the last durably persisted state, or an empty state
	// when none exists, and seeds the store's in-memory set from it.
	Load() (*Checkpoint, error)
	// Contains reports whether the item was processed in a prior run or
	// recorded during this one.
	Contains(itemID string) bool
	// Record marks an item as fully processed. The store buffers records
	// in memory and flushes every flush-frequency items.
	Record(itemID string) error
	// SetCursor updates the opaque resume cursor for a source. The value
	// becomes durable at the next flush.
	SetCursor(source, cursor string)
	// Flush forces a durable write of the buffered state.
	Flush() error
	// Close flushes and releases the store.
	Close() error
}

// FileStore is the file-backed Store used in production. Writes follow
// the write-to-temp-then-rename discipline and fsync before renaming.
type FileStore struct {
	path      string
	frequency int
	logger    *zap.Logger

	mu        sync.Mutex
	processed map[string]struct{}
	cursors   map[string]string
	sequence  uint64
	unflushed int
}

// NewFileStore creates a store that persists to path and flushes every
// frequency recorded items.
func NewFileStore(path string, frequency int, logger *zap.Logger) *FileStore {
	if frequency < 1 {
		frequency = 1
	}
	return &FileStore{
		path:      path,
		frequency: frequency,
		logger:    logger.With(zap.String("component", "checkpoint_store")),
		processed: make(map[string]struct{}),
		cursors:   make(map[string]string),
	}
}

// Load implements Store.
func (s *FileStore) Load() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no checkpoint found, starting fresh", zap.String("path", s.path))
			return Empty(), nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read checkpoint")
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "corrupt checkpoint")
	}
	if cp.Cursors == nil {
		cp.Cursors = map[string]string{}
	}

	for _, id := range cp.Processed {
		s.processed[id] = struct{}{}
	}
	for src, cur := range cp.Cursors {
		s.cursors[src] = cur
	}
	s.sequence = cp.Sequence

	s.logger.Info("checkpoint loaded",
		zap.Uint64("sequence", cp.Sequence),
		zap.Int("processed_items", len(cp.Processed)),
		zap.Int("cursors", len(cp.Cursors)))
	return &cp, nil
}

// Contains implements Store.
func (s *FileStore) Contains(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[itemID]
	return ok
}

// Record implements Store.
func (s *FileStore) Record(itemID string) error {
	s.mu.Lock()
	if _, ok := s.processed[itemID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.processed[itemID] = struct{}{}
	s.unflushed++
	flush := s.unflushed >= s.frequency
	if flush {
		err := s.flushLocked()
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return nil
}

// SetCursor implements Store.
func (s *FileStore) SetCursor(source, cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[source] = cursor
}

// Flush implements Store.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked persists the current state. Callers hold s.mu.
func (s *FileStore) flushLocked() error {
	cp := Checkpoint{
		Sequence:  s.sequence + 1,
		Cursors:   make(map[string]string, len(s.cursors)),
		Processed: make([]string, 0, len(s.processed)),
	}
	for id := range s.processed {
		cp.Processed = append(cp.Processed, id)
	}
	for src, cur := range s.cursors {
		cp.Cursors[src] = cur
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal checkpoint")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create checkpoint temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to close checkpoint temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to replace checkpoint")
	}

	s.sequence = cp.Sequence
	s.unflushed = 0
	s.logger.Debug("checkpoint flushed",
		zap.Uint64("sequence", cp.Sequence),
		zap.Int("processed_items", len(cp.Processed)))
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return s.Flush()
}

// NopStore is a Store that keeps state in memory only. It backs runs with
// checkpointing disabled and keeps tests free of the filesystem.
type NopStore struct {
	mu        sync.Mutex
	processed map[string]struct{}
	cursors   map[string]string
}

// NewNopStore creates an in-memory store.
func NewNopStore() *NopStore {
	return &NopStore{
		processed: make(map[string]struct{}),
		cursors:   make(map[string]string),
	}
}

// Load implements Store.
func (s *NopStore) Load() (*Checkpoint, error) { return Empty(), nil }

// Contains implements Store.
func (s *NopStore) Contains(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[itemID]
	return ok
}

// Record implements Store.
func (s *NopStore) Record(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[itemID] = struct{}{}
	return nil
}

// SetCursor implements Store.
func (s *NopStore) SetCursor(source, cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[source] = cursor
}

// Flush implements Store.
func (s *NopStore) Flush() error { return nil }

// Close implements Store.
func (s *NopStore) Close() error { return nil }
