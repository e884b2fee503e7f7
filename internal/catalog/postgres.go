package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewPostgresWriter connects to the catalog database and ensures the schema.
func NewPostgresWriter(cfg Config) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	slog.With("component", "catalog").Info("connected to PostgreSQL catalog")
	return &PostgresWriter{pool: pool, cfg: cfg}, nil
}

// RecordJob upserts the job-level row.
func (w *PostgresWriter) RecordJob(ctx context.Context, rec JobRecord) error {
	query := `
		INSERT INTO loader_jobs
			(job_id, namespace, src, processing_dir, status, shards, submitted, succeeded, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			submitted = EXCLUDED.submitted,
			succeeded = EXCLUDED.succeeded,
			finished_at = EXCLUDED.finished_at`

	namespace := rec.Namespace
	if namespace == "" {
		namespace = w.cfg.Namespace
	}

	_, err := w.pool.Exec(ctx, query,
		rec.JobID, namespace, rec.Src, rec.ProcessingDir, rec.Status,
		rec.Shards, rec.Submitted, rec.Succeeded, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("record job %s: %w", rec.JobID, err)
	}
	return nil
}

// RecordWorkers upserts the terminal state of each worker in a job.
func (w *PostgresWriter) RecordWorkers(ctx context.Context, recs []WorkerRecord) error {
	query := `
		INSERT INTO loader_worker_runs
			(job_id, worker, submitted, succeeded, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, worker) DO UPDATE SET
			submitted = EXCLUDED.submitted,
			succeeded = EXCLUDED.succeeded,
			status = EXCLUDED.status,
			error = EXCLUDED.error`

	for _, rec := range recs {
		if _, err := w.pool.Exec(ctx, query,
			rec.JobID, rec.Worker, rec.Submitted, rec.Succeeded, rec.Status, rec.Error); err != nil {
			return fmt.Errorf("record worker %d of job %s: %w", rec.Worker, rec.JobID, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (w *PostgresWriter) Close() {
	if w.pool != nil {
		w.pool.Close()
	}
}

// Verify PostgresWriter implements Writer.
var _ Writer = (*PostgresWriter)(nil)
