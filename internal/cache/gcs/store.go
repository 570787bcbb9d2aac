// Package gcs provides a cache backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/wpchain/internal/cache"
	"github.com/JakeFAU/wpchain/internal/hash/sha256"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Store writes books to a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	hasher *sha256.Hasher
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		hasher: sha256.New(),
	}, nil
}

// ObjectName maps a cache key to its object path.
func (s *Store) ObjectName(key string) string {
	return path.Join(s.prefix, s.hasher.HashString(key)+".epub")
}

func (s *Store) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.ObjectName(key))
}

// Create starts an upload for key. The object becomes visible on Close.
func (s *Store) Create(ctx context.Context, key string) (cache.Sink, error) {
	uploadCtx, cancel := context.WithCancel(ctx)
	writer := s.object(key).NewWriter(uploadCtx)
	writer.ContentType = cache.ContentType
	return &sink{writer: writer, cancel: cancel}, nil
}

// Open streams the object stored for key.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return r, nil
}

// Expire deletes the object stored for key.
func (s *Store) Expire(ctx context.Context, key string) error {
	if err := s.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

type sink struct {
	writer *storage.Writer
	cancel context.CancelFunc
	done   bool
}

func (w *sink) Write(p []byte) (int, error) {
	n, err := w.writer.Write(p)
	if err != nil {
		return n, fmt.Errorf("write object: %w", err)
	}
	return n, nil
}

func (w *sink) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.cancel()
	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Abort cancels the upload so no object is created.
func (w *sink) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.cancel()
	_ = w.writer.Close()
	return nil
}
