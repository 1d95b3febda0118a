// Package core defines the capability interfaces every connector
// implements. Sources emit items onto a stream, transformers rewrite or
// drop individual items, and destinations deliver them. The engine only
// sees these interfaces; concrete connectors register factories with the
// registry package and are selected by configuration.
package core

import (
	"context"

	"github.com/conveyr/conveyr/pkg/models"
)

// ItemStream carries items from a source to the engine. The source
// closes both channels when it is done; an error on Errors does not
// necessarily terminate the stream unless the error is fatal.
type ItemStream struct {
	Items  <-chan *models.Item
	Errors <-chan error
}

// Source produces items. Open starts emission and returns immediately;
// the returned stream is fed by a goroutine owned by the source until
// ctx is cancelled, the data is exhausted, or Close is called.
//
// cursor is the opaque resume cursor persisted by a previous run, or ""
// for a fresh start. Each source defines its own cursor encoding.
type Source interface {
	// Name returns the configured binding name.
	Name() string
	// Open begins emitting items after the given cursor.
	Open(ctx context.Context, cursor string) (*ItemStream, error)
	// Close releases the source. Safe to call after stream exhaustion.
	Close() error
}

// Transformer rewrites a single item. Returning (nil, nil) drops the
// item from the pipeline without error; dropped items still count as
// processed for checkpointing. Implementations must be safe for
// concurrent use, one call per in-flight item.
type Transformer interface {
	// Name returns the configured binding name.
	Name() string
	// Process returns the transformed item, nil to drop it, or an error.
	Process(ctx context.Context, item *models.Item) (*models.Item, error)
}

// Destination delivers items to an external system. Send is called
// concurrently by in-flight item pipelines and must be safe for that.
type Destination interface {
	// Name returns the configured binding name.
	Name() string
	// Open establishes the connection or output handle.
	Open(ctx context.Context) error
	// Send delivers one item.
	Send(ctx context.Context, item *models.Item) error
	// Close flushes and releases the destination.
	Close() error
}
