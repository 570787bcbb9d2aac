// Package cache stores finished books keyed by the URL they were crawled from.
//
// Writes are staged: bytes written to a Sink become visible to readers only
// when the Sink is closed, and a Sink that is aborted leaves no trace. Readers
// never wait for an unfinished writer. Expiring an entry does not disturb
// readers that already hold it open.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Open when no published entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// ContentType is the media type of cached artifacts.
const ContentType = "application/epub+zip"

// Sink is a write handle for one entry. Exactly one of Close or Abort takes
// effect; later calls are no-ops.
type Sink interface {
	io.Writer
	// Close publishes the written bytes.
	Close() error
	// Abort discards the written bytes.
	Abort() error
}

// Storage is implemented by every cache backend.
type Storage interface {
	Create(ctx context.Context, key string) (Sink, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Expire(ctx context.Context, key string) error
}
