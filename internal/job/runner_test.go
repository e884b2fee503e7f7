package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/adtelic/conversion-loader/internal/catalog"
	"github.com/adtelic/conversion-loader/internal/checkpoint"
	"github.com/adtelic/conversion-loader/internal/config"
	"github.com/adtelic/conversion-loader/internal/conversion"
	"github.com/adtelic/conversion-loader/internal/notify"
	"github.com/adtelic/conversion-loader/internal/storage"
	"github.com/adtelic/conversion-loader/internal/worker"
)

const inputHeader = "customer_id,conversion_action_id,gclid,gbraid,wbraid,conversion_date_time,conversion_value,currency"

// fakeUploader succeeds everything, tracking concurrency and call counts.
type fakeUploader struct {
	mu         sync.Mutex
	calls      int
	active     int32
	maxActive  int32
	failWorker func(customerID string) error
}

func (f *fakeUploader) Upload(ctx context.Context, customerID string, batch []conversion.EventRecord) ([]conversion.Outcome, error) {
	cur := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		prev := atomic.LoadInt32(&f.maxActive)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxActive, prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	failer := f.failWorker
	f.mu.Unlock()

	if failer != nil {
		if err := failer(customerID); err != nil {
			return nil, err
		}
	}

	outcomes := make([]conversion.Outcome, len(batch))
	for i := range outcomes {
		outcomes[i] = conversion.Outcome{Status: conversion.StatusSuccess}
	}
	return outcomes, nil
}

// captureCatalog records what the runner persists.
type captureCatalog struct {
	mu      sync.Mutex
	job     *catalog.JobRecord
	workers []catalog.WorkerRecord
}

func (c *captureCatalog) RecordJob(ctx context.Context, rec catalog.JobRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.job = &rec
	return nil
}

func (c *captureCatalog) RecordWorkers(ctx context.Context, recs []catalog.WorkerRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers = recs
	return nil
}

func (c *captureCatalog) Close() {}

// captureNotifier records the completion summary.
type captureNotifier struct {
	mu        sync.Mutex
	summaries []notify.Summary
}

func (n *captureNotifier) NotifyJobCompletion(ctx context.Context, s notify.Summary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
}

func testConfig() config.Config {
	return config.Config{
		Job: config.JobConfig{
			EventsPerWorker:      10,
			EventsPerBatch:       4,
			MaxConcurrentWorkers: 3,
		},
		Storage: config.StorageConfig{
			Backend:          "local",
			InputPrefix:      "input/",
			ProcessingPrefix: "processing/",
			HistoryPrefix:    "history/",
		},
		Catalog: config.CatalogConfig{Namespace: "test"},
	}
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeInput(t *testing.T, store storage.Store, path string, rows int) {
	t.Helper()
	w, err := store.NewWriter(context.Background(), path)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	fmt.Fprintln(w, inputHeader)
	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, "cust-%d,42,gclid-%d,,,2026-08-01 12:00:00+00:00,1.50,USD\n", i%2, i)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func newTestRunner(t *testing.T, store storage.Store, up conversion.Uploader, cat catalog.Writer, n notify.Notifier) *Runner {
	t.Helper()
	checkpoints, err := checkpoint.NewManager(checkpoint.Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return NewRunner(testConfig(), store, up, checkpoints, cat, n)
}

func TestMerge(t *testing.T) {
	got := Merge()
	if got.Submitted != 0 || got.Succeeded != 0 {
		t.Errorf("empty merge = %+v", got)
	}

	got = Merge(
		worker.Totals{Submitted: 10, Succeeded: 8},
		worker.Totals{Submitted: 5, Succeeded: 5},
		worker.Totals{},
	)
	if got.Submitted != 15 || got.Succeeded != 13 {
		t.Errorf("merge = %+v, want 15/13", got)
	}
}

func TestRunOnceNoInput(t *testing.T) {
	store := newTestStore(t)
	r := newTestRunner(t, store, &fakeUploader{}, &captureCatalog{}, &captureNotifier{})

	_, err := r.RunOnce(context.Background())
	if !errors.Is(err, ErrNoInput) {
		t.Fatalf("RunOnce = %v, want ErrNoInput", err)
	}
}

func TestRunOnceEndToEnd(t *testing.T) {
	store := newTestStore(t)
	writeInput(t, store, "input/data.csv", 25) // 3 shards at 10/shard

	up := &fakeUploader{}
	cat := &captureCatalog{}
	not := &captureNotifier{}
	r := newTestRunner(t, store, up, cat, not)

	rec, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Errorf("Status = %q, want COMPLETED", rec.Status)
	}
	if rec.Shards != 3 {
		t.Errorf("Shards = %d, want 3", rec.Shards)
	}
	if rec.Totals.Submitted != 25 || rec.Totals.Succeeded != 25 {
		t.Errorf("Totals = %+v, want 25/25", rec.Totals)
	}
	if len(rec.Workers) != 3 {
		t.Fatalf("Workers = %d, want 3", len(rec.Workers))
	}
	for _, w := range rec.Workers {
		if w.Status != WorkerDone {
			t.Errorf("worker %d status = %q, want DONE", w.Worker, w.Status)
		}
	}

	// Input was claimed: gone from input/, archived under history/.
	ctx := context.Background()
	if ok, _ := store.Exists(ctx, "input/data.csv"); ok {
		t.Error("input still present after run")
	}
	keys, err := store.List(ctx, "history/")
	if err != nil {
		t.Fatalf("List history failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("history keys = %v, want one archived input", keys)
	}

	// Processing dir holds the staged copy, shards and outcome logs.
	procKeys, err := store.List(ctx, rec.ProcessingDir+"/")
	if err != nil {
		t.Fatalf("List processing failed: %v", err)
	}
	want := map[string]bool{
		rec.ProcessingDir + "/data.csv":          false,
		rec.ProcessingDir + "/worker-0.csv":      false,
		rec.ProcessingDir + "/worker-1.csv":      false,
		rec.ProcessingDir + "/worker-2.csv":      false,
		rec.ProcessingDir + "/worker-log-0.json": false,
		rec.ProcessingDir + "/worker-log-1.json": false,
		rec.ProcessingDir + "/worker-log-2.json": false,
	}
	for _, k := range procKeys {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("missing artifact %s", k)
		}
	}

	// Catalog and notifier saw the same numbers.
	if cat.job == nil {
		t.Fatal("catalog job record not written")
	}
	if cat.job.Status != StatusCompleted || cat.job.Submitted != 25 || cat.job.Namespace != "test" {
		t.Errorf("catalog job = %+v", cat.job)
	}
	if len(cat.workers) != 3 {
		t.Errorf("catalog worker records = %d, want 3", len(cat.workers))
	}
	if len(not.summaries) != 1 {
		t.Fatalf("notifications = %d, want 1", len(not.summaries))
	}
	if s := not.summaries[0]; s.Status != StatusCompleted || s.Submitted != 25 || s.Succeeded != 25 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRunOnceStagesDistinctProcessingDirs(t *testing.T) {
	store := newTestStore(t)
	r := newTestRunner(t, store, &fakeUploader{}, &captureCatalog{}, &captureNotifier{})
	ctx := context.Background()

	// Two back-to-back runs land within the same clock second; each must
	// still stage into its own processing dir and history slot.
	writeInput(t, store, "input/data.csv", 5)
	first, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first RunOnce failed: %v", err)
	}

	writeInput(t, store, "input/data.csv", 5)
	second, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}

	if first.ProcessingDir == second.ProcessingDir {
		t.Fatalf("both runs staged into %s", first.ProcessingDir)
	}
	for _, rec := range []*Record{first, second} {
		if ok, _ := store.Exists(ctx, rec.ProcessingDir+"/data.csv"); !ok {
			t.Errorf("staged copy missing under %s", rec.ProcessingDir)
		}
	}

	keys, err := store.List(ctx, "history/")
	if err != nil {
		t.Fatalf("List history failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("history keys = %v, want two archived inputs", keys)
	}
}

func TestRunOnceWorkerFailureDoesNotStopSiblings(t *testing.T) {
	store := newTestStore(t)
	writeInput(t, store, "input/data.csv", 20) // 2 shards

	// cust-1 rows make every chunk containing them fail at transport level;
	// that is a FAIL outcome, not a worker failure, so the job completes.
	up := &fakeUploader{failWorker: func(customerID string) error {
		if customerID == "cust-1" {
			return &conversion.TransportError{Code: "UNAVAILABLE", Message: "down"}
		}
		return nil
	}}
	cat := &captureCatalog{}
	r := newTestRunner(t, store, up, cat, &captureNotifier{})

	rec, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Errorf("Status = %q, want COMPLETED (transport errors are outcomes, not failures)", rec.Status)
	}
	if rec.Totals.Submitted != 20 {
		t.Errorf("Submitted = %d, want 20", rec.Totals.Submitted)
	}
	if rec.Totals.Succeeded != 10 {
		t.Errorf("Succeeded = %d, want 10 (cust-1 half failed)", rec.Totals.Succeeded)
	}
}

func TestRunOnceRespectsConcurrencyCap(t *testing.T) {
	store := newTestStore(t)
	writeInput(t, store, "input/data.csv", 100) // 10 shards at 10/shard

	up := &fakeUploader{}
	cfg := testConfig()
	cfg.Job.MaxConcurrentWorkers = 2
	checkpoints, err := checkpoint.NewManager(checkpoint.Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	r := NewRunner(cfg, store, up, checkpoints, &captureCatalog{}, &captureNotifier{})

	rec, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if rec.Shards != 10 {
		t.Fatalf("Shards = %d, want 10", rec.Shards)
	}
	if got := atomic.LoadInt32(&up.maxActive); got > 2 {
		t.Errorf("max concurrent uploads = %d, cap was 2", got)
	}
}

func TestResumeSkipsCompletedWorkers(t *testing.T) {
	store := newTestStore(t)
	writeInput(t, store, "input/data.csv", 25)

	mgr, err := checkpoint.NewManager(checkpoint.Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	up := &fakeUploader{}
	r := NewRunner(testConfig(), store, up, mgr, &captureCatalog{}, &captureNotifier{})

	first, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	firstCalls := up.calls

	// Re-dispatching the same processing dir finds every worker checkpointed.
	second, err := r.Resume(context.Background(), first.JobID, first.ProcessingDir)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if second.Status != StatusCompleted {
		t.Errorf("resume status = %q", second.Status)
	}
	for _, w := range second.Workers {
		if w.Status != WorkerSkipped {
			t.Errorf("worker %d status = %q, want SKIPPED", w.Worker, w.Status)
		}
	}
	if up.calls != firstCalls {
		t.Errorf("resume made %d extra upload calls", up.calls-firstCalls)
	}
}

func TestResumeNoShards(t *testing.T) {
	store := newTestStore(t)
	r := newTestRunner(t, store, &fakeUploader{}, &captureCatalog{}, &captureNotifier{})
	if _, err := r.Resume(context.Background(), "job-x", "processing/nope"); err == nil {
		t.Fatal("Resume succeeded with no shard artifacts")
	}
}
