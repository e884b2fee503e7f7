// Package watcher polls the input prefix and hands each detected file to the
// job runner. One file per tick; a busy tick simply defers the next file to
// the following poll.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adtelic/conversion-loader/internal/job"
	"github.com/adtelic/conversion-loader/internal/logging"
)

// Runner is the part of the job runner the watcher drives.
type Runner interface {
	RunOnce(ctx context.Context) (*job.Record, error)
}

// Watcher runs jobs on a fixed poll interval until its context is cancelled.
type Watcher struct {
	runner   Runner
	interval time.Duration
	log      *slog.Logger
}

func New(runner Runner, interval time.Duration) *Watcher {
	return &Watcher{
		runner:   runner,
		interval: interval,
		log:      logging.Component("watcher"),
	}
}

// Watch polls until ctx is cancelled. A tick with no input is quiet; a failed
// job is logged and the loop keeps going, the next tick starts clean.
func (w *Watcher) Watch(ctx context.Context) error {
	w.log.Info("watching for input", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		rec, err := w.runner.RunOnce(ctx)
		switch {
		case errors.Is(err, job.ErrNoInput):
		case err != nil:
			w.log.Error("job run failed", "error", err)
		default:
			w.log.Info("job run finished", "job_id", rec.JobID, "status", rec.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
