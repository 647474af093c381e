package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	MaxVariantsPerJob = 16
)

type CreateJobRequest struct {
	SourceType string    `json:"source_type"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	ObjectKey  string    `json:"object_key,omitempty"`
	Variants   []Variant `json:"variants"`
}

// Variant is one recolored rendition requested for a job's source image.
type Variant struct {
	ID         string     `json:"id"`
	Adjustment Adjustment `json:"adjustment"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Variants   []Variant
	ObjectKey  string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if len(r.Variants) == 0 {
		return errors.New("variants must contain at least one entry")
	}
	if len(r.Variants) > MaxVariantsPerJob {
		return fmt.Errorf("variants must contain at most %d entries", MaxVariantsPerJob)
	}
	seen := make(map[string]struct{}, len(r.Variants))
	for i, v := range r.Variants {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return fmt.Errorf("variants[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("variants[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}
		if err := v.Adjustment.Validate(); err != nil {
			return fmt.Errorf("variants[%d].adjustment: %w", i, err)
		}
	}
	return nil
}
