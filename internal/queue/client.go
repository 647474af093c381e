package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	maxRetry    = 5
	taskTimeout = 3 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueRecolorImage enqueues one task per job; the job id doubles as the
// task id so a job cannot be started twice while its task is retained.
func (c *Client) EnqueueRecolorImage(ctx context.Context, payload RecolorImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewRecolorImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}

// IsDuplicate reports whether err came from enqueueing a job that already has
// a task.
func IsDuplicate(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}
