package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
)

// RedisProducer enqueues jobs and reads back their results
type RedisProducer struct {
	client redis.UniversalClient
	logger *logrus.Logger
	now    func() time.Time
}

// NewRedisProducer creates a new producer
func NewRedisProducer(client redis.UniversalClient, logger *logrus.Logger) *RedisProducer {
	return &RedisProducer{client: client, logger: logger, now: time.Now}
}

// Enqueue adds a job to the stream of its priority and returns the job ID
func (p *RedisProducer) Enqueue(ctx context.Context, jobType string, priority Priority, data map[string]interface{}, maxRetries int) (string, error) {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	job := Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Priority:   priority,
		Data:       data,
		CreatedAt:  p.now().UTC(),
		MaxRetries: maxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	streamKey := StreamFor(priority)
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{jobDataField: string(jobData)},
	}).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job on %s: %w", streamKey, err)
	}

	p.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": jobType,
		"stream":   streamKey,
	}).Info("Job enqueued")

	return job.ID, nil
}

// GetResult returns the stored status of a finished job, or
// ErrResultNotFound while it is still queued or running
func (p *RedisProducer) GetResult(ctx context.Context, jobID string) (*models.TaskStatus, error) {
	return getResult(ctx, p.client, jobID)
}

// QueueDepth returns the number of entries across all priority streams
func (p *RedisProducer) QueueDepth(ctx context.Context) (int64, error) {
	return queueDepth(ctx, p.client)
}

func getResult(ctx context.Context, client redis.UniversalClient, jobID string) (*models.TaskStatus, error) {
	data, err := client.Get(ctx, resultKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job result: %w", err)
	}

	var status models.TaskStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to decode job result: %w", err)
	}
	return &status, nil
}

func queueDepth(ctx context.Context, client redis.UniversalClient) (int64, error) {
	var total int64
	for _, streamKey := range priorityQueues {
		n, err := client.XLen(ctx, streamKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("failed to read length of %s: %w", streamKey, err)
		}
		total += n
	}
	return total, nil
}
