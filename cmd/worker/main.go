package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/hueshift/internal/config"
	"github.com/dunamismax/hueshift/internal/pipeline"
	"github.com/dunamismax/hueshift/internal/storage"
	"github.com/dunamismax/hueshift/internal/store"
	"github.com/dunamismax/hueshift/internal/telemetry"
	"github.com/dunamismax/hueshift/internal/webhook"
	"github.com/dunamismax/hueshift/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	recolorer, err := pipeline.NewRecolorer(pipeline.Options{
		FrameBatchSize:  cfg.Pipeline.FrameBatchSize,
		PartialFrames:   pipeline.PartialFramesPolicy(cfg.Pipeline.PartialFrames),
		MaxDecodePixels: cfg.Pipeline.MaxDecodePixels,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatalf("recolorer setup failed: %v", err)
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:     cfg.Storage.Endpoint,
		Access:       cfg.Storage.AccessKey,
		Secret:       cfg.Storage.SecretKey,
		Bucket:       cfg.Storage.Bucket,
		UseSSL:       cfg.Storage.UseSSL,
		MaxReadBytes: cfg.Storage.MaxReadBytes,
	})
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}

	jobStore, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("job store setup failed: %v", err)
	}
	defer func() {
		if err := jobStore.Close(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, worker.Dependencies{
		Recolorer:    recolorer,
		Objects:      storageClient,
		OutputPrefix: cfg.Storage.OutputPrefix,
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
		Jobs:  jobStore,
		Usage: jobStore,
	})
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s frame_batch=%d partial_frames=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Pipeline.FrameBatchSize,
		cfg.Pipeline.PartialFrames,
	)

	// Run blocks until SIGINT/SIGTERM, then drains in-flight tasks.
	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
