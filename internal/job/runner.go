// Package job drives one upload job end to end: intake the input file, plan
// shards, dispatch worker pipelines with bounded concurrency, and aggregate
// their totals into a job record.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adtelic/conversion-loader/internal/catalog"
	"github.com/adtelic/conversion-loader/internal/checkpoint"
	"github.com/adtelic/conversion-loader/internal/config"
	"github.com/adtelic/conversion-loader/internal/conversion"
	"github.com/adtelic/conversion-loader/internal/logging"
	"github.com/adtelic/conversion-loader/internal/metrics"
	"github.com/adtelic/conversion-loader/internal/notify"
	"github.com/adtelic/conversion-loader/internal/shard"
	"github.com/adtelic/conversion-loader/internal/storage"
	"github.com/adtelic/conversion-loader/internal/worker"
)

// ErrNoInput is returned by RunOnce when the input prefix holds no CSV file.
var ErrNoInput = errors.New("no input file detected")

// Job statuses. The job-level status reflects the worst case across workers;
// a failed worker never stops its siblings.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Worker statuses.
const (
	WorkerDone    = "DONE"
	WorkerFailed  = "FAILED"
	WorkerSkipped = "SKIPPED"
)

// WorkerStatus is the terminal state of one worker within a job.
type WorkerStatus struct {
	Worker int
	Totals worker.Totals
	Status string
	Err    string
}

// Record summarizes one job run.
type Record struct {
	JobID         string
	Src           string
	ProcessingDir string
	Status        string
	Shards        int
	Totals        worker.Totals
	Workers       []WorkerStatus
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Runner owns the split → dispatch → aggregate sequence.
type Runner struct {
	cfg         config.Config
	store       storage.Store
	uploader    conversion.Uploader
	checkpoints checkpoint.Manager
	catalog     catalog.Writer
	notifier    notify.Notifier
	log         *slog.Logger
}

// NewRunner wires a runner from its collaborators.
func NewRunner(cfg config.Config, store storage.Store, uploader conversion.Uploader,
	checkpoints checkpoint.Manager, cat catalog.Writer, notifier notify.Notifier) *Runner {
	return &Runner{
		cfg:         cfg,
		store:       store,
		uploader:    uploader,
		checkpoints: checkpoints,
		catalog:     cat,
		notifier:    notifier,
		log:         logging.Component("runner"),
	}
}

// RunOnce picks up the next input file, archives it, and runs a job over it.
// With no input present it returns ErrNoInput.
func (r *Runner) RunOnce(ctx context.Context) (*Record, error) {
	keys, err := r.store.List(ctx, r.cfg.Storage.InputPrefix)
	if err != nil {
		return nil, fmt.Errorf("list input: %w", err)
	}

	var input string
	for _, key := range keys {
		if strings.HasSuffix(key, ".csv") {
			input = key
			break
		}
	}
	if input == "" {
		if m := metrics.Get(); m != nil {
			m.JobsSkipped.Inc()
		}
		return nil, ErrNoInput
	}

	// The job id in the stamp keeps concurrent or rapid runs from staging
	// different inputs onto the same processing dir.
	jobID := uuid.New().String()
	stamp := time.Now().UTC().Format("2006-01-02-150405") + "-" + jobID[:8]
	dir := strings.TrimSuffix(r.cfg.Storage.ProcessingPrefix, "/") + "/" + stamp
	data := dir + "/data.csv"

	if err := r.store.Copy(ctx, input, data); err != nil {
		return nil, fmt.Errorf("stage input %s: %w", input, err)
	}

	// Archiving the original is the claim on this input: if it fails, the
	// job is skipped rather than risking a second run over the same file.
	base := input[strings.LastIndex(input, "/")+1:]
	archived := strings.TrimSuffix(r.cfg.Storage.HistoryPrefix, "/") + "/" + stamp + "/" + base
	if err := r.store.Move(ctx, input, archived); err != nil {
		return nil, fmt.Errorf("archive input %s: %w", input, err)
	}

	return r.run(ctx, jobID, dir, input)
}

var shardArtifactRe = regexp.MustCompile(`/worker-\d+\.csv$`)

// Resume re-runs a job against existing shard artifacts, skipping workers the
// checkpoint already marks complete. Safe to repeat: shard reads are
// idempotent and re-uploading accepted records is a provider-side concern.
func (r *Runner) Resume(ctx context.Context, jobID, dir string) (*Record, error) {
	keys, err := r.store.List(ctx, dir+"/")
	if err != nil {
		return nil, fmt.Errorf("list processing dir %s: %w", dir, err)
	}

	shards := 0
	for _, key := range keys {
		if shardArtifactRe.MatchString(key) {
			shards++
		}
	}
	if shards == 0 {
		return nil, fmt.Errorf("no shard artifacts under %s", dir)
	}

	return r.finish(ctx, jobID, dir, dir+"/data.csv", shards, time.Now().UTC())
}

// run plans shards for a staged input and executes them.
func (r *Runner) run(ctx context.Context, jobID, dir, src string) (*Record, error) {
	started := time.Now().UTC()
	log := logging.JobLogger(jobID, src)
	log.Info("job started", "processing_dir", dir)

	if m := metrics.Get(); m != nil {
		m.JobsStarted.Inc()
	}

	planner := shard.NewPlanner(r.store, r.cfg.Job.EventsPerWorker)
	shards, err := planner.Plan(ctx, dir+"/data.csv", dir)
	if err != nil {
		return nil, fmt.Errorf("plan shards: %w", err)
	}
	log.Info("shards planned", "shards", shards)

	return r.finish(ctx, jobID, dir, src, shards, started)
}

// finish dispatches workers over planned shards and assembles the record.
func (r *Runner) finish(ctx context.Context, jobID, dir, src string, shards int, started time.Time) (*Record, error) {
	workers := r.dispatch(ctx, jobID, dir, src, shards)

	status := StatusCompleted
	var results []worker.Totals
	for _, w := range workers {
		results = append(results, w.Totals)
		if w.Status == WorkerFailed {
			status = StatusFailed
		}
	}
	totals := Merge(results...)

	rec := &Record{
		JobID:         jobID,
		Src:           src,
		ProcessingDir: dir,
		Status:        status,
		Shards:        shards,
		Totals:        totals,
		Workers:       workers,
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
	}

	r.persist(ctx, rec)

	if m := metrics.Get(); m != nil {
		m.JobDuration.Observe(rec.FinishedAt.Sub(rec.StartedAt).Seconds())
		m.LastJobEvents.Set(float64(totals.Submitted))
	}

	if r.notifier != nil {
		r.notifier.NotifyJobCompletion(ctx, notify.Summary{
			JobID:     rec.JobID,
			Src:       rec.Src,
			Status:    rec.Status,
			Shards:    rec.Shards,
			Submitted: totals.Submitted,
			Succeeded: totals.Succeeded,
			Duration:  rec.FinishedAt.Sub(rec.StartedAt),
		})
	}

	logging.JobLogger(jobID, src).Info("job finished",
		"status", rec.Status,
		"submitted", totals.Submitted,
		"succeeded", totals.Succeeded,
	)
	return rec, nil
}

// dispatch runs one worker pipeline per shard under the concurrency cap.
// The cap is the only admission control; provider rate limits surface as
// transport errors inside the workers, not as scheduling signals.
func (r *Runner) dispatch(ctx context.Context, jobID, dir, src string, shards int) []WorkerStatus {
	progress, err := r.checkpoints.Load(ctx, dir)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			r.log.Warn("checkpoint load failed", "error", err)
		}
		progress = &checkpoint.Progress{JobID: jobID, ProcessingDir: dir}
	}

	results := make([]WorkerStatus, shards)
	sem := make(chan struct{}, r.cfg.Job.MaxConcurrentWorkers)

	var (
		wg sync.WaitGroup
		mu sync.Mutex // guards progress
	)

	for k := 0; k < shards; k++ {
		if progress.Completed(k) {
			results[k] = WorkerStatus{Worker: k, Status: WorkerSkipped}
			if m := metrics.Get(); m != nil {
				m.WorkersSkipped.Inc()
			}
			continue
		}

		wg.Add(1)
		go func(k int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[k] = WorkerStatus{Worker: k, Status: WorkerFailed, Err: ctx.Err().Error()}
				return
			}
			defer func() { <-sem }()

			m := metrics.Get()
			if m != nil {
				m.WorkersStarted.Inc()
				m.WorkersActive.Inc()
				defer m.WorkersActive.Dec()
			}

			logPath := shard.LogPath(dir, k)
			if r.cfg.Storage.CompressLogs {
				logPath += ".gz"
			}

			pipeline := worker.New(r.store, r.uploader, worker.Config{
				MaxPerBatch:  r.cfg.Job.EventsPerBatch,
				JobID:        jobID,
				Src:          src,
				CompressLogs: r.cfg.Storage.CompressLogs,
			})

			totals, err := pipeline.Run(ctx, k, shard.ArtifactPath(dir, k), logPath)
			if err != nil {
				// Storage failure is fatal to this worker only.
				logging.WorkerLogger(k).Error("worker failed", "error", err)
				results[k] = WorkerStatus{Worker: k, Totals: totals, Status: WorkerFailed, Err: err.Error()}
				if m != nil {
					m.WorkersFailed.Inc()
				}
				return
			}

			results[k] = WorkerStatus{Worker: k, Totals: totals, Status: WorkerDone}

			mu.Lock()
			progress.MarkCompleted(k)
			if err := r.checkpoints.Save(ctx, progress); err != nil {
				r.log.Warn("checkpoint save failed", "error", err)
			}
			mu.Unlock()
		}(k)
	}

	wg.Wait()
	return results
}

// persist records the run in the catalog; the catalog is optional and its
// failures never fail the job.
func (r *Runner) persist(ctx context.Context, rec *Record) {
	if r.catalog == nil {
		return
	}

	if err := r.catalog.RecordJob(ctx, catalog.JobRecord{
		JobID:         rec.JobID,
		Namespace:     r.cfg.Catalog.Namespace,
		Src:           rec.Src,
		ProcessingDir: rec.ProcessingDir,
		Status:        rec.Status,
		Shards:        rec.Shards,
		Submitted:     rec.Totals.Submitted,
		Succeeded:     rec.Totals.Succeeded,
		StartedAt:     rec.StartedAt,
		FinishedAt:    rec.FinishedAt,
	}); err != nil {
		r.log.Warn("catalog job write failed", "error", err)
	}

	workerRecs := make([]catalog.WorkerRecord, 0, len(rec.Workers))
	for _, w := range rec.Workers {
		workerRecs = append(workerRecs, catalog.WorkerRecord{
			JobID:     rec.JobID,
			Worker:    w.Worker,
			Submitted: w.Totals.Submitted,
			Succeeded: w.Totals.Succeeded,
			Status:    w.Status,
			Error:     w.Err,
		})
	}
	if err := r.catalog.RecordWorkers(ctx, workerRecs); err != nil {
		r.log.Warn("catalog worker write failed", "error", err)
	}
}
