package watcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adtelic/conversion-loader/internal/job"
)

type scriptedRunner struct {
	runs int32
	errs []error
}

func (r *scriptedRunner) RunOnce(ctx context.Context) (*job.Record, error) {
	n := int(atomic.AddInt32(&r.runs, 1)) - 1
	if n < len(r.errs) && r.errs[n] != nil {
		return nil, r.errs[n]
	}
	return &job.Record{JobID: "job-1", Status: job.StatusCompleted}, nil
}

func TestWatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &scriptedRunner{errs: []error{job.ErrNoInput}}

	done := make(chan error, 1)
	go func() { done <- New(runner, time.Hour).Watch(ctx) }()

	// First tick runs immediately; cancellation ends the wait for the next.
	for atomic.LoadInt32(&runner.runs) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}

func TestWatchSurvivesJobFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &scriptedRunner{errs: []error{errors.New("boom"), nil}}

	done := make(chan error, 1)
	go func() { done <- New(runner, 5*time.Millisecond).Watch(ctx) }()

	for atomic.LoadInt32(&runner.runs) < 2 {
		select {
		case err := <-done:
			t.Fatalf("Watch stopped early: %v", err)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	<-done
}
