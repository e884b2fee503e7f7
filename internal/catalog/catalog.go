// Package catalog records job runs and per-worker totals in an operational
// database. The catalog is optional: without a DSN every write is a no-op and
// the job proceeds on the outcome logs alone.
package catalog

import (
	"context"
	"time"
)

// Config configures the catalog connection.
type Config struct {
	PostgresDSN string
	Namespace   string
}

// JobRecord is the job-level row written once per run.
type JobRecord struct {
	JobID         string
	Namespace     string
	Src           string
	ProcessingDir string
	Status        string // "COMPLETED" | "FAILED"
	Shards        int
	Submitted     int
	Succeeded     int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// WorkerRecord is one worker's terminal state within a job.
type WorkerRecord struct {
	JobID     string
	Worker    int
	Submitted int
	Succeeded int
	Status    string // "DONE" | "FAILED" | "SKIPPED"
	Error     string
}

// Writer persists job and worker records.
type Writer interface {
	RecordJob(ctx context.Context, rec JobRecord) error
	RecordWorkers(ctx context.Context, recs []WorkerRecord) error
	Close()
}

// NewWriter returns a Postgres-backed writer when a DSN is configured and a
// no-op writer otherwise.
func NewWriter(cfg Config) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(cfg)
}

type noopWriter struct{}

func (noopWriter) RecordJob(context.Context, JobRecord) error          { return nil }
func (noopWriter) RecordWorkers(context.Context, []WorkerRecord) error { return nil }
func (noopWriter) Close()                                              {}
