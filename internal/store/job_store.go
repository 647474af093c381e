package store

import (
	"context"
	"errors"

	"github.com/dunamismax/hueshift/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	// UpdateStatus sets the job status. errMessage is stored as is and
	// cleared when empty.
	UpdateStatus(ctx context.Context, id, status, errMessage string) (domain.Job, error)
}

type UsageStore interface {
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
}
