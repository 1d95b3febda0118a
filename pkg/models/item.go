// Package models provides the data model for items flowing through a
// Conveyr pipeline. An item is an opaque, serializable record with a
// stable identifier; identity drives deduplication and checkpointing,
// content is immutable once a source has produced it.
package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Item is a single record moving through the pipeline.
type Item struct {
	// ID is the stable identifier used for dedup and checkpointing.
	// Sources either set it from their own metadata or leave it empty,
	// in which case EnsureID derives it from the content hash.
	ID string `json:"id"`

	// Source names the connector that produced the item.
	Source string `json:"source"`

	// Sequence is the source-emission order, starting at 1 per run.
	// It drives contiguous low-watermark cursor advancement.
	Sequence uint64 `json:"sequence"`

	// Cursor is the opaque source-defined value that would resume the
	// source just past this item.
	Cursor string `json:"cursor,omitempty"`

	// Data holds structured content, when the source parses it.
	Data map[string]interface{} `json:"data,omitempty"`

	// Raw holds the unparsed payload for line/byte oriented sources.
	Raw []byte `json:"raw,omitempty"`

	// Timestamp records when the source emitted the item.
	Timestamp time.Time `json:"timestamp"`
}

// New creates an item for the given source with structured data.
func New(source string, data map[string]interface{}) *Item {
	return &Item{
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewRaw creates an item for the given source with a raw payload.
func NewRaw(source string, raw []byte) *Item {
	return &Item{
		Source:    source,
		Raw:       raw,
		Timestamp: time.Now(),
	}
}

// EnsureID fills in the identifier when the source did not provide one.
// Structured items hash a deterministic rendering of their fields; raw
// items hash the payload bytes. The hash is stable across runs so a
// resumed run recognizes items it already processed.
func (it *Item) EnsureID() string {
	if it.ID != "" {
		return it.ID
	}
	it.ID = fmt.Sprintf("%016x", xxhash.Sum64(it.contentKey()))
	return it.ID
}

// contentKey renders the item content deterministically for hashing.
func (it *Item) contentKey() []byte {
	if len(it.Data) == 0 {
		return it.Raw
	}
	keys := make([]string, 0, len(it.Data))
	for k := range it.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		fmt.Fprintf(d, "%s=%v;", k, it.Data[k])
	}
	return d.Sum(nil)
}

// Clone returns a deep-enough copy for transformers that replace content.
// Data is copied one level deep; Raw is copied byte-wise.
func (it *Item) Clone() *Item {
	dup := *it
	if it.Data != nil {
		dup.Data = make(map[string]interface{}, len(it.Data))
		for k, v := range it.Data {
			dup.Data[k] = v
		}
	}
	if it.Raw != nil {
		dup.Raw = append([]byte(nil), it.Raw...)
	}
	return &dup
}

// String returns a short human-readable form for logs.
func (it *Item) String() string {
	return fmt.Sprintf("item{id=%s source=%s seq=%d}", it.ID, it.Source, it.Sequence)
}
