// Package file implements a cache backed by a local directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/wpchain/internal/cache"
	"github.com/JakeFAU/wpchain/internal/hash/sha256"
)

// Config captures the parameters for the directory cache.
type Config struct {
	// BaseDir is the directory where entries are stored.
	BaseDir string `mapstructure:"dir" yaml:"dir"`
}

// Store keeps one file per entry, named by the digest of its key. Writes go
// to a temporary file that is renamed into place on Close.
type Store struct {
	baseDir string
	hasher  *sha256.Hasher
}

// New creates a directory-backed store, creating BaseDir when missing.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir, hasher: sha256.New()}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.baseDir, s.hasher.HashString(key)+".epub")
}

// Create opens a staging file for key.
func (s *Store) Create(_ context.Context, key string) (cache.Sink, error) {
	f, err := os.CreateTemp(s.baseDir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &sink{f: f, target: s.path(key)}, nil
}

// Open returns the published file for key.
func (s *Store) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("open cache file: %w", err)
	}
	return f, nil
}

// Expire removes the file for key. Open handles keep working until closed.
func (s *Store) Expire(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

type sink struct {
	f      *os.File
	target string
	done   bool
}

func (w *sink) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("write staging file: %w", err)
	}
	return n, nil
}

func (w *sink) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.f.Name())
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(w.f.Name(), w.target); err != nil {
		_ = os.Remove(w.f.Name())
		return fmt.Errorf("publish cache file: %w", err)
	}
	return nil
}

func (w *sink) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	closeErr := w.f.Close()
	if err := os.Remove(w.f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staging file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close staging file: %w", closeErr)
	}
	return nil
}
