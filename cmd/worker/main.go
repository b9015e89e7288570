package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/sepiatone/internal/config"
	"github.com/dunamismax/sepiatone/internal/pipeline"
	"github.com/dunamismax/sepiatone/internal/storage"
	"github.com/dunamismax/sepiatone/internal/store"
	"github.com/dunamismax/sepiatone/internal/telemetry"
	"github.com/dunamismax/sepiatone/internal/webhook"
	"github.com/dunamismax/sepiatone/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "sepiatone-worker", cfg.Tracing, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	jobStore, closeStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("job store setup failed: %v", err)
	}
	defer closeStore()

	deps := worker.Deps{
		Webhook:  webhook.NewClient(cfg.Webhook),
		JobStore: jobStore,
	}
	if storageClient, err := storage.NewClient(cfg.Storage); err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else {
		deps.ObjectStore = storageClient
	}

	opts := pipeline.DefaultOptions()
	opts.Resampler = cfg.Imaging.Resampler
	opts.Quality = cfg.Imaging.JPEGQuality
	opts.Sepia.BlurSigma = cfg.Imaging.BlurSigma

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, opts, deps)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer metricsServer.Close()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s codec=%s resampler=%s sigma=%g",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		pipeline.CodecName,
		opts.Resampler,
		opts.Sepia.BlurSigma,
	)

	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
