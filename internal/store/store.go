// Package store persists one record per file.
//
// # Overview
//
// [Store] reads, writes, deletes and enumerates record files. It keeps no
// state besides its [codec.Codec] and optional [Recorder], so every method
// is safe for concurrent use. Paths come from a [Resolver], usually a
// [Layout] rooted at the application data directory.
//
// # Atomicity
//
// Writes go to a hidden temporary file in the destination directory which is
// then renamed over the record. A concurrent reader sees either the old or
// the new content, never a partial file. The last rename wins.
//
// # Placeholders
//
// A zero-length record file is reported as [ErrNotFound]: file watchers
// create such placeholders to observe records that were never saved.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maruel/fsrecord/internal/codec"
)

// Recorder keeps a history of record file changes.
type Recorder interface {
	// Commit records the current content of files. Missing files are
	// recorded as deleted.
	Commit(ctx context.Context, msg string, files []string) error
}

// Store reads and writes records of type T.
type Store[T any] struct {
	codec    codec.Codec
	recorder Recorder
}

// Option configures a Store.
type Option func(*options)

type options struct {
	recorder Recorder
}

// WithHistory commits every write and delete through rec.
func WithHistory(rec Recorder) Option {
	return func(o *options) {
		o.recorder = rec
	}
}

// New returns a Store encoding records with c.
func New[T any](c codec.Codec, opts ...Option) *Store[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{codec: c, recorder: o.recorder}
}

// Ext returns the file extension of records written by this store.
func (s *Store[T]) Ext() string {
	return s.codec.Ext()
}

// Read decodes the record at path.
func (s *Store[T]) Read(path string) (T, error) {
	var v T
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from a Resolver
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return v, fmt.Errorf("failed to read %s: %w", path, ErrNotFound)
		}
		return v, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return v, fmt.Errorf("failed to read %s: %w", path, ErrNotFound)
	}
	if err := s.codec.Unmarshal(data, &v); err != nil {
		return v, &DecodeError{Path: path, Err: err}
	}
	return v, nil
}

// Write encodes v and atomically replaces the file at path, creating parent
// directories as needed.
func (s *Store[T]) Write(ctx context.Context, path string, v T) error {
	data, err := s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		return errors.Join(fmt.Errorf("failed to write %s: %w", path, err), f.Close(), os.Remove(tmp))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(tmp))
	}
	if err := os.Chmod(tmp, 0o644); err != nil { //nolint:gosec // G302: records are not secrets
		return errors.Join(fmt.Errorf("failed to chmod temp file: %w", err), os.Remove(tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename %s: %w", path, err), os.Remove(tmp))
	}
	s.record(ctx, "update "+filepath.Base(path), path)
	return nil
}

// Delete removes the record at path. Deleting an absent record succeeds.
func (s *Store[T]) Delete(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	s.record(ctx, "delete "+filepath.Base(path), path)
	return nil
}

// List returns the sorted record files directly inside dir.
//
// Hidden entries, subdirectories and files with another extension are
// skipped.
func (s *Store[T]) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to list %s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	suffix := "." + s.codec.Ext()
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	slices.Sort(paths)
	return paths, nil
}

func (s *Store[T]) record(ctx context.Context, msg, path string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Commit(ctx, msg, []string{path}); err != nil {
		slog.WarnContext(ctx, "Failed to record history", "path", path, "err", err)
	}
}
