package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dunamismax/hueshift/internal/api"
	"github.com/dunamismax/hueshift/internal/config"
	"github.com/dunamismax/hueshift/internal/pipeline"
	"github.com/dunamismax/hueshift/internal/queue"
	"github.com/dunamismax/hueshift/internal/ratelimit"
	"github.com/dunamismax/hueshift/internal/storage"
	"github.com/dunamismax/hueshift/internal/store"
	"github.com/dunamismax/hueshift/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, traceConfig(cfg, "api"), logger)
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

	jobStore, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("job store setup failed: %v", err)
	}
	defer func() {
		if err := jobStore.Close(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	opts := api.Options{
		Logger:          logger,
		Queue:           queueClient,
		Jobs:            jobStore,
		Recolorer:       recolorer,
		PresignTTL:      cfg.API.PresignTTL,
		MaxRecolorBytes: cfg.API.MaxRecolorBytes,
		UserHeader:      cfg.RateLimit.UserHeader,
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
		logger.Printf("object storage disabled: %v", err)
	} else if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else {
		opts.Storage = storageClient
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate, cfg.RateLimit.KeyPrefix)
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limiting enabled capacity=%d refill_per_sec=%.2f", cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	}

	app := api.NewServer(opts)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s store=%s", cfg.API.Addr, cfg.Database.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func traceConfig(cfg config.Config, component string) telemetry.TraceConfig {
	return telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-" + component,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}
}
