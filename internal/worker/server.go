package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/hueshift/internal/config"
	"github.com/dunamismax/hueshift/internal/domain"
	"github.com/dunamismax/hueshift/internal/pipeline"
	"github.com/dunamismax/hueshift/internal/queue"
	"github.com/dunamismax/hueshift/internal/store"
	"github.com/dunamismax/hueshift/internal/webhook"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Dependencies are the collaborators a worker needs besides its config.
type Dependencies struct {
	Recolorer    *pipeline.Recolorer
	Objects      pipeline.ObjectStore
	OutputPrefix string
	Webhooks     webhookSender
	Jobs         store.JobStore
	Usage        store.UsageStore
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Dependencies) (*Server, error) {
	if deps.Recolorer == nil {
		return nil, errors.New("recolorer is required")
	}
	if deps.Objects == nil {
		return nil, errors.New("storage client is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(deps.Recolorer, workerCfg.LocalOutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}
	objectProcessor, err := pipeline.NewObjectStoreProcessor(deps.Recolorer, deps.Objects, deps.OutputPrefix)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	usageStore := deps.Usage
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.Jobs.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   deps.Webhooks,
		jobStore:        deps.Jobs,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("github.com/dunamismax/hueshift/internal/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRecolorImage, s.handleRecolorImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRecolorImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseRecolorImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.processJob(ctx, payload)
}

func (s *Server) processJob(ctx context.Context, payload queue.RecolorImagePayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.recolor_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.variants", len(payload.Variants)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"recoloring job_id=%s source_type=%s variants=%d object_key=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Variants),
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing, "")

	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Variants:   payload.Variants,
	}

	var result pipeline.Result
	var err error
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, request)
	default:
		result, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		return fmt.Errorf("run pipeline: %w", err)
	}

	fallbacks := 0
	for _, out := range result.Outputs {
		s.metrics.outputsTotal.WithLabelValues(out.Kind, modifiedLabel(out.Modified)).Inc()
		if !out.Modified {
			fallbacks++
		}
	}
	s.logger.Printf("recolored job_id=%s outputs=%d fallbacks=%d", payload.JobID, len(result.Outputs), fallbacks)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded, "")
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"outputs":      result.Outputs,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetAttributes(attribute.Int("job.fallbacks", fallbacks))
	span.SetStatus(codes.Ok, "recolored")
	return nil
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status, errMessage string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status, errMessage); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RecolorImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	var (
		pixelsProcessed  int64
		framesProcessed  int64
		fallbacks        int64
		totalOutputBytes int
	)
	for _, output := range result.Outputs {
		totalOutputBytes += output.Bytes
		if !output.Modified {
			fallbacks++
			continue
		}
		frames := int64(max(1, output.Frames))
		framesProcessed += frames
		pixelsProcessed += int64(output.Width*output.Height) * frames
	}

	bytesSaved := int64(result.SourceBytes - totalOutputBytes)
	if bytesSaved < 0 {
		bytesSaved = 0
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		PixelsProcessed: pixelsProcessed,
		FramesProcessed: framesProcessed,
		Fallbacks:       fallbacks,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.framesProcessedTotal.Add(float64(framesProcessed))
	s.metrics.fallbacksTotal.Add(float64(fallbacks))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

func modifiedLabel(modified bool) string {
	if modified {
		return "recolored"
	}
	return "original"
}
