package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adtelic/conversion-loader/internal/catalog"
	"github.com/adtelic/conversion-loader/internal/checkpoint"
	"github.com/adtelic/conversion-loader/internal/config"
	"github.com/adtelic/conversion-loader/internal/conversion"
	"github.com/adtelic/conversion-loader/internal/job"
	"github.com/adtelic/conversion-loader/internal/logging"
	"github.com/adtelic/conversion-loader/internal/metrics"
	"github.com/adtelic/conversion-loader/internal/notify"
	"github.com/adtelic/conversion-loader/internal/storage"
	"github.com/adtelic/conversion-loader/internal/watcher"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		once       = flag.Bool("once", false, "run a single job and exit instead of watching")
	)
	flag.Parse()

	if err := run(*configPath, *once); err != nil {
		fmt.Fprintf(os.Stderr, "conversion-loader: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Setup(logging.Config{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})
	log := logging.Component("main")
	log.Info("starting conversion-loader",
		"backend", cfg.Storage.Backend,
		"endpoint", cfg.API.Endpoint,
		"validate_only", cfg.Job.ValidateOnly,
	)

	metrics.Init("")
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(metrics.Config{
				Enabled: cfg.Metrics.Enabled,
				Address: cfg.Metrics.Address,
			}); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(storage.Config{
		Backend:    cfg.Storage.Backend,
		LocalDir:   cfg.Storage.LocalDir,
		GCSBucket:  cfg.Storage.Bucket,
		S3Bucket:   cfg.Storage.Bucket,
		S3Endpoint: cfg.Storage.S3Endpoint,
		S3Region:   cfg.Storage.S3Region,
	})
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	uploader := conversion.NewAPIUploader(conversion.Config{
		Endpoint:     cfg.API.Endpoint,
		Timeout:      time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		ValidateOnly: cfg.Job.ValidateOnly,
	})

	checkpoints, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		return fmt.Errorf("init checkpoints: %w", err)
	}

	cat, err := catalog.NewWriter(catalog.Config{
		PostgresDSN: cfg.Catalog.PostgresDSN,
		Namespace:   cfg.Catalog.Namespace,
	})
	if err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}
	defer cat.Close()

	notifier := notify.NewLogNotifier(config.NewStore(cfg))

	runner := job.NewRunner(cfg, store, uploader, checkpoints, cat, notifier)

	if once {
		rec, err := runner.RunOnce(ctx)
		if errors.Is(err, job.ErrNoInput) {
			log.Info("no input file, nothing to do")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("job finished", "job_id", rec.JobID, "status", rec.Status)
		if rec.Status != job.StatusCompleted {
			return fmt.Errorf("job %s finished with status %s", rec.JobID, rec.Status)
		}
		return nil
	}

	interval := time.Duration(cfg.Job.PollIntervalSeconds) * time.Second
	err = watcher.New(runner, interval).Watch(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}
