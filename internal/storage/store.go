package storage

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// Store abstracts the object storage the job reads inputs from and writes
// shard artifacts and outcome logs to. Paths are bucket-relative keys.
type Store interface {
	// NewReader opens a streaming reader for the object at path.
	NewReader(ctx context.Context, path string) (io.ReadCloser, error)

	// NewWriter opens a streaming writer for the object at path.
	// The object becomes visible when the writer is closed.
	NewWriter(ctx context.Context, path string) (io.WriteCloser, error)

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Copy duplicates the object at src to dst.
	Copy(ctx context.Context, src, dst string) error

	// Move relocates the object at src to dst. For object stores this is
	// copy + delete; for the local filesystem it is a rename.
	Move(ctx context.Context, src, dst string) error

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error

	// List returns all object keys under prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(path string) string

	// Close releases any resources.
	Close() error
}

// Config configures the storage backend.
type Config struct {
	Backend string // "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string

	// GCS
	GCSBucket string

	// S3 (also works for B2, R2, MinIO)
	S3Bucket   string
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string
}

// NewStore creates a storage backend based on configuration.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCSBucket required for gcs backend")
		}
		return NewGCSStore(cfg.GCSBucket)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3Bucket required for s3 backend")
		}
		return NewS3Store(cfg.S3Bucket, cfg.S3Endpoint, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// bucketStore implements Store over a gocloud blob bucket. Both the GCS and
// S3 backends reduce to this; only bucket construction differs.
type bucketStore struct {
	bucket *blob.Bucket
	scheme string
	name   string
}

func (s *bucketStore) NewReader(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return r, nil
}

func (s *bucketStore) NewWriter(ctx context.Context, path string) (io.WriteCloser, error) {
	w, err := s.bucket.NewWriter(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", path, err)
	}
	return w, nil
}

func (s *bucketStore) Exists(ctx context.Context, path string) (bool, error) {
	return s.bucket.Exists(ctx, path)
}

func (s *bucketStore) Copy(ctx context.Context, src, dst string) error {
	r, err := s.bucket.NewReader(ctx, src, nil)
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer r.Close()

	w, err := s.bucket.NewWriter(ctx, dst, nil)
	if err != nil {
		return fmt.Errorf("create destination %s: %w", dst, err)
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}

	return w.Close()
}

func (s *bucketStore) Move(ctx context.Context, src, dst string) error {
	if err := s.Copy(ctx, src, dst); err != nil {
		return err
	}
	if err := s.bucket.Delete(ctx, src); err != nil {
		return fmt.Errorf("delete source %s: %w", src, err)
	}
	return nil
}

func (s *bucketStore) Delete(ctx context.Context, path string) error {
	return s.bucket.Delete(ctx, path)
}

func (s *bucketStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

func (s *bucketStore) URI(path string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, path)
}

func (s *bucketStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
