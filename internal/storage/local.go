package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore keeps objects on the local filesystem, keyed relative to a base
// directory. Writes are atomic: content lands in a temp file and is renamed
// into place on Close.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) abs(path string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(path))
}

// NewReader opens the file at path for streaming reads.
func (s *LocalStore) NewReader(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.abs(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// NewWriter opens a writer for path. The file appears atomically on Close.
func (s *LocalStore) NewWriter(ctx context.Context, path string) (io.WriteCloser, error) {
	target := s.abs(path)

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", path, err)
	}

	return &atomicWriter{file: tmp, target: target}, nil
}

// atomicWriter renames the temp file to its target on Close.
type atomicWriter struct {
	file   *os.File
	target string
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *atomicWriter) Close() error {
	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return err
	}
	if err := os.Rename(w.file.Name(), w.target); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("rename %s to %s: %w", w.file.Name(), w.target, err)
	}
	return nil
}

// Exists checks if a file exists at path.
func (s *LocalStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(s.abs(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Copy duplicates src to dst.
func (s *LocalStore) Copy(ctx context.Context, src, dst string) error {
	r, err := s.NewReader(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := s.NewWriter(ctx, dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}

	return w.Close()
}

// Move renames src to dst.
func (s *LocalStore) Move(ctx context.Context, src, dst string) error {
	target := s.abs(dst)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	if err := os.Rename(s.abs(src), target); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	return nil
}

// Delete removes the file at path.
func (s *LocalStore) Delete(ctx context.Context, path string) error {
	return os.Remove(s.abs(path))
}

// List returns all file keys under prefix, in lexical order.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.baseDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(path string) string {
	return "file://" + s.abs(path)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

// Verify LocalStore implements Store.
var _ Store = (*LocalStore)(nil)
