package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/hueshift/internal/domain"
)

const TypeRecolorImage = "image:recolor"

type RecolorImagePayload struct {
	JobID       string           `json:"job_id"`
	UserID      string           `json:"user_id,omitempty"`
	SourceType  string           `json:"source_type"`
	WebhookURL  string           `json:"webhook_url,omitempty"`
	ObjectKey   string           `json:"object_key"`
	Variants    []domain.Variant `json:"variants"`
	RequestedAt time.Time        `json:"requested_at"`
}

func NewRecolorImageTask(payload RecolorImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal recolor payload: %w", err)
	}
	return asynq.NewTask(TypeRecolorImage, body), nil
}

func ParseRecolorImagePayload(task *asynq.Task) (RecolorImagePayload, error) {
	var payload RecolorImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RecolorImagePayload{}, fmt.Errorf("unmarshal recolor payload: %w", err)
	}
	return payload, nil
}
