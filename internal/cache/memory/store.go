// Package memory keeps cached books in process memory.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/JakeFAU/wpchain/internal/cache"
)

// Store holds published entries in a map. Entries are immutable once
// published, so readers share the backing slice.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Create returns a Sink that publishes into the store on Close.
func (s *Store) Create(_ context.Context, key string) (cache.Sink, error) {
	return &sink{store: s, key: key}, nil
}

// Open returns a reader over the published entry for key.
func (s *Store) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, cache.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Expire drops the entry for key.
func (s *Store) Expire(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of published entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type sink struct {
	store *Store
	key   string
	buf   bytes.Buffer
	done  bool
}

func (w *sink) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *sink) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	data := append([]byte(nil), w.buf.Bytes()...)
	w.store.mu.Lock()
	w.store.data[w.key] = data
	w.store.mu.Unlock()
	return nil
}

func (w *sink) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
