// Package api exposes the HTTP surface: job lifecycle endpoints backed by the
// queue and a synchronous recolor endpoint for small payloads.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/hueshift/internal/domain"
	"github.com/dunamismax/hueshift/internal/id"
	"github.com/dunamismax/hueshift/internal/pipeline"
	"github.com/dunamismax/hueshift/internal/queue"
	"github.com/dunamismax/hueshift/internal/store"
)

const (
	defaultPresignTTL      = 15 * time.Minute
	defaultMaxRecolorBytes = 32 << 20
	maxJobBodyBytes        = 1 << 20
)

type Server struct {
	logger          *log.Logger
	queueClient     queueEnqueuer
	jobStore        store.JobStore
	storage         objectStorage
	recolorer       recolorer
	presignTTL      time.Duration
	maxRecolorBytes int64
	rateLimiter     RateLimiter
	userHeader      string
	metrics         *metrics
	tracer          trace.Tracer
	mux             *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueRecolorImage(ctx context.Context, payload queue.RecolorImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type recolorer interface {
	Recolor(ctx context.Context, input []byte, adj domain.Adjustment) pipeline.Rendition
}

type Options struct {
	Logger          *log.Logger
	Queue           queueEnqueuer
	Jobs            store.JobStore
	Storage         objectStorage
	Recolorer       recolorer
	PresignTTL      time.Duration
	MaxRecolorBytes int64
	RateLimiter     RateLimiter
	UserHeader      string
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = defaultPresignTTL
	}
	maxRecolorBytes := opts.MaxRecolorBytes
	if maxRecolorBytes <= 0 {
		maxRecolorBytes = defaultMaxRecolorBytes
	}
	storage := opts.Storage
	if storage == nil {
		storage = unavailableObjectStorage{}
	}
	userHeader := strings.TrimSpace(opts.UserHeader)
	if userHeader == "" {
		userHeader = "X-User-ID"
	}

	s := &Server{
		logger:          logger,
		queueClient:     opts.Queue,
		jobStore:        opts.Jobs,
		storage:         storage,
		recolorer:       opts.Recolorer,
		presignTTL:      presignTTL,
		maxRecolorBytes: maxRecolorBytes,
		rateLimiter:     opts.RateLimiter,
		userHeader:      userHeader,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("github.com/dunamismax/hueshift/internal/api"),
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("POST /v1/recolor", s.handleRecolor)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(w, r, &req, maxJobBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for job %s: %v", jobID, err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     s.subject(r),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		Variants:   req.Variants,
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"variants": len(job.Variants),
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	payload := queue.RecolorImagePayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Variants:    job.Variants,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueRecolorImage(r.Context(), payload)
	if queue.IsDuplicate(err) {
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":    job.ID,
			"status":    job.Status,
			"duplicate": true,
		})
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued, ""); err != nil {
		s.logger.Printf("update status failed for job %s: %v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func (s *Server) subject(r *http.Request) string {
	subject := strings.TrimSpace(r.Header.Get(s.userHeader))
	if subject == "" {
		return "anonymous"
	}
	return subject
}

type jobResponse struct {
	ID         string           `json:"job_id"`
	UserID     string           `json:"user_id"`
	Status     string           `json:"status"`
	SourceType string           `json:"source_type"`
	ObjectKey  string           `json:"object_key"`
	Variants   []domain.Variant `json:"variants"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func newJobResponse(job domain.Job) jobResponse {
	return jobResponse{
		ID:         job.ID,
		UserID:     job.UserID,
		Status:     job.Status,
		SourceType: job.SourceType,
		ObjectKey:  job.ObjectKey,
		Variants:   job.Variants,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into any, limit int64) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
