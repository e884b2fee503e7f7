// Package worker runs one shard end to end: build events from rows, submit
// them in provider-sized chunks, and append per-event outcomes to a durable
// log in submission order.
package worker

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/adtelic/conversion-loader/internal/conversion"
	"github.com/adtelic/conversion-loader/internal/logging"
	"github.com/adtelic/conversion-loader/internal/metrics"
	"github.com/adtelic/conversion-loader/internal/storage"
)

// Totals are the counters a single worker owns during its run. They are
// merged job-wide only after the worker finishes.
type Totals struct {
	Submitted int
	Succeeded int
}

// Config carries the per-worker knobs.
type Config struct {
	MaxPerBatch  int    // provider per-call cap
	JobID        string
	Src          string // original input path, carried into outcome records
	CompressLogs bool
}

// Pipeline processes one shard sequentially. Workers run concurrently
// relative to each other, but inside a pipeline chunks are strictly ordered:
// the outcome log append order equals processing order.
type Pipeline struct {
	store    storage.Store
	uploader conversion.Uploader
	builder  conversion.Builder
	cfg      Config
	now      func() time.Time
}

// New creates a pipeline reading shards and writing logs through store.
func New(store storage.Store, uploader conversion.Uploader, cfg Config) *Pipeline {
	if cfg.MaxPerBatch < 1 {
		cfg.MaxPerBatch = 1
	}
	return &Pipeline{
		store:    store,
		uploader: uploader,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run consumes the shard at shardPath and writes the outcome log to logPath.
// Record-level and chunk-level failures are converted into FAIL outcomes and
// never abort the shard; only storage I/O failures return an error.
func (p *Pipeline) Run(ctx context.Context, workerID int, shardPath, logPath string) (Totals, error) {
	log := logging.WorkerLogger(workerID).With(
		"correlation_id", logging.GenerateCorrelationID(),
		"shard", shardPath,
	)
	log.Info("worker started")

	shard, err := p.store.NewReader(ctx, shardPath)
	if err != nil {
		return Totals{}, fmt.Errorf("open shard: %w", err)
	}
	defer shard.Close()

	sink, err := p.store.NewWriter(ctx, logPath)
	if err != nil {
		return Totals{}, fmt.Errorf("create outcome log: %w", err)
	}
	enc := NewEncoder(sink, p.cfg.CompressLogs)

	totals, err := p.process(ctx, log, shard, enc)
	if err != nil {
		enc.Close()
		return totals, err
	}

	if err := enc.Close(); err != nil {
		return totals, fmt.Errorf("close outcome log: %w", err)
	}

	log.Info("worker finished", "submitted", totals.Submitted, "succeeded", totals.Succeeded)
	return totals, nil
}

func (p *Pipeline) process(ctx context.Context, log *slog.Logger, shard io.Reader, enc *Encoder) (Totals, error) {
	var totals Totals

	// Chunks are keyed by customer id so a batch never mixes customers;
	// customer order is insertion order for deterministic flushing.
	chunks := make(map[string][]conversion.EventRecord)
	var customerOrder []string

	flush := func(customerID string) error {
		chunk := chunks[customerID]
		if len(chunk) == 0 {
			return nil
		}
		chunks[customerID] = nil

		// Natural cancellation checkpoint: chunks either fully upload
		// or are never started.
		if err := ctx.Err(); err != nil {
			return err
		}

		outcomes := p.uploadChunk(ctx, log, customerID, chunk)

		now := p.now()
		for i, rec := range chunk {
			if err := enc.Write(newLogRecord(rec, outcomes[i], p.cfg.JobID, p.cfg.Src, now)); err != nil {
				return err
			}
		}

		totals.Submitted += len(chunk)
		for _, o := range outcomes {
			if o.Status == conversion.StatusSuccess {
				totals.Succeeded++
			}
		}
		return nil
	}

	reader := csv.NewReader(shard)
	reader.FieldsPerRecord = len(conversion.Columns)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return totals, fmt.Errorf("read shard: %w", err)
		}

		row := make(map[string]string, len(conversion.Columns))
		for i, col := range conversion.Columns {
			row[col] = record[i]
		}

		rec, err := p.builder.Build(row)
		if err != nil {
			var verr *conversion.ValidationError
			if !errors.As(err, &verr) {
				return totals, fmt.Errorf("build event: %w", err)
			}
			// Row-local failure: log it and keep going.
			log.Warn("row rejected", "field", verr.Field, "reason", verr.Reason)
			if m := metrics.Get(); m != nil {
				m.EventsInvalid.Inc()
				m.EventsFailed.WithLabelValues("validation").Inc()
			}
			if err := enc.Write(newRejectedLogRecord(row, verr, p.cfg.JobID, p.cfg.Src, p.now())); err != nil {
				return totals, err
			}
			continue
		}

		if _, seen := chunks[rec.CustomerID]; !seen {
			customerOrder = append(customerOrder, rec.CustomerID)
		}
		chunks[rec.CustomerID] = append(chunks[rec.CustomerID], rec)

		if len(chunks[rec.CustomerID]) == p.cfg.MaxPerBatch {
			if err := flush(rec.CustomerID); err != nil {
				return totals, err
			}
		}
	}

	// Drain remainders per customer, in first-seen order.
	for _, customerID := range customerOrder {
		if err := flush(customerID); err != nil {
			return totals, err
		}
	}

	return totals, nil
}

// uploadChunk submits one chunk and always returns len(chunk) outcomes.
// Transport and structural decode failures become chunk-wide FAIL outcomes;
// the shard continues with the next chunk either way.
func (p *Pipeline) uploadChunk(ctx context.Context, log *slog.Logger, customerID string, chunk []conversion.EventRecord) []conversion.Outcome {
	start := time.Now()
	outcomes, err := p.uploader.Upload(ctx, customerID, chunk)
	elapsed := time.Since(start)

	m := metrics.Get()
	if m != nil {
		m.UploadDuration.Observe(elapsed.Seconds())
		m.UploadBatchSize.Observe(float64(len(chunk)))
		m.EventsSubmitted.Add(float64(len(chunk)))
	}

	if err != nil {
		var terr *conversion.TransportError
		var derr *conversion.StructuralDecodeError
		switch {
		case errors.As(err, &terr):
			log.Warn("chunk upload failed", "customer_id", customerID, "code", terr.Code, "error", terr.Message)
			if m != nil {
				m.TransportErrors.Inc()
				m.EventsFailed.WithLabelValues("transport").Add(float64(len(chunk)))
			}
			return conversion.FailAll(len(chunk), terr.Code, terr.Message)
		case errors.As(err, &derr):
			log.Warn("chunk response undecodable", "customer_id", customerID, "error", err.Error())
			if m != nil {
				m.DecodeErrors.Inc()
				m.EventsFailed.WithLabelValues("decode").Add(float64(len(chunk)))
			}
			return conversion.FailAll(len(chunk), conversion.CodeDecode, err.Error())
		default:
			log.Warn("chunk upload failed", "customer_id", customerID, "error", err.Error())
			if m != nil {
				m.TransportErrors.Inc()
				m.EventsFailed.WithLabelValues("transport").Add(float64(len(chunk)))
			}
			return conversion.FailAll(len(chunk), conversion.CodeTransport, err.Error())
		}
	}

	if m != nil {
		for _, o := range outcomes {
			if o.Status == conversion.StatusSuccess {
				m.EventsSucceeded.Inc()
			} else {
				m.EventsFailed.WithLabelValues("partial").Inc()
			}
		}
	}

	return outcomes
}
