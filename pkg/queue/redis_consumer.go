package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
)

// ConsumerOptions configures a RedisConsumer
type ConsumerOptions struct {
	ConsumerGroup string
	ConsumerName  string
	// Block is how long each stream read waits for new entries
	Block     time.Duration
	ResultTTL time.Duration
	// Backoff returns the delay before a failed job is requeued
	Backoff func(retry int) time.Duration
	// RecoverInterval is how often pending entries are re-read and claimed
	RecoverInterval time.Duration
	// ClaimIdle is how long an entry must sit unacknowledged under another
	// consumer before this one claims it
	ClaimIdle time.Duration
}

const (
	defaultRecoverInterval = time.Minute
	defaultClaimIdle       = 15 * time.Minute
	recoverBatch           = 10
	settleTimeout          = 5 * time.Second
)

// RedisConsumer handles Redis Streams consumption with priority queues
type RedisConsumer struct {
	client  redis.UniversalClient
	opts    ConsumerOptions
	logger  *logrus.Logger
	metrics *ConsumerMetrics
}

// NewRedisConsumer creates a consumer and makes sure its group exists on
// every priority stream
func NewRedisConsumer(ctx context.Context, client redis.UniversalClient, opts ConsumerOptions, metrics *ConsumerMetrics, logger *logrus.Logger) (*RedisConsumer, error) {
	if opts.ConsumerGroup == "" || opts.ConsumerName == "" {
		return nil, fmt.Errorf("consumer group and name are required")
	}
	if opts.Block == 0 {
		opts.Block = 100 * time.Millisecond
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.Backoff == nil {
		opts.Backoff = QuadraticBackoff
	}
	if opts.RecoverInterval <= 0 {
		opts.RecoverInterval = defaultRecoverInterval
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = defaultClaimIdle
	}

	consumer := &RedisConsumer{
		client:  client,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}

	if err := consumer.initializeConsumerGroups(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize consumer groups: %w", err)
	}

	return consumer, nil
}

// initializeConsumerGroups creates consumer groups for all priority queues
func (c *RedisConsumer) initializeConsumerGroups(ctx context.Context) error {
	for _, streamKey := range priorityQueues {
		err := c.client.XGroupCreateMkStream(ctx, streamKey, c.opts.ConsumerGroup, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group for stream %s: %w", streamKey, err)
		}
	}
	return nil
}

// ConsumeJobs consumes jobs from priority queues until ctx is cancelled.
// Entries left pending by an earlier run, or idle under another consumer,
// are recovered on start and every RecoverInterval.
func (c *RedisConsumer) ConsumeJobs(ctx context.Context, processor JobProcessor) error {
	c.logger.WithFields(logrus.Fields{
		"consumer_group": c.opts.ConsumerGroup,
		"consumer_name":  c.opts.ConsumerName,
	}).Info("Starting job consumption")

	var lastRecover time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Since(lastRecover) >= c.opts.RecoverInterval {
			if err := c.recoverPending(ctx, processor); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.WithError(err).Warn("Failed to recover pending jobs")
			}
			lastRecover = time.Now()
		}

		if _, err := c.consumeFromPriorityQueues(ctx, processor); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithError(err).Error("Error consuming from priority queues")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// consumeFromPriorityQueues handles at most one job, checking streams from
// realtime down to low. It reports whether a job was found.
func (c *RedisConsumer) consumeFromPriorityQueues(ctx context.Context, processor JobProcessor) (bool, error) {
	for priority := PriorityRealtime; priority >= PriorityLow; priority-- {
		streamKey := priorityQueues[priority]

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.opts.ConsumerGroup,
			Consumer: c.opts.ConsumerName,
			Streams:  []string{streamKey, ">"},
			Count:    1,
			Block:    c.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return false, fmt.Errorf("failed to read from stream %s: %w", streamKey, err)
		}

		found := false
		for _, stream := range streams {
			for _, message := range stream.Messages {
				found = true
				if err := c.processMessage(ctx, message, streamKey, processor); err != nil {
					c.logger.WithError(err).WithField("message_id", message.ID).Error("Failed to process message")
				}
			}
		}

		// Lower priorities wait for the next round
		if found {
			return true, nil
		}
	}

	return false, nil
}

// recoverPending claims entries idle under other consumers, then replays
// every entry still pending for this consumer, highest priority first
func (c *RedisConsumer) recoverPending(ctx context.Context, processor JobProcessor) error {
	for priority := PriorityRealtime; priority >= PriorityLow; priority-- {
		streamKey := priorityQueues[priority]

		if err := c.claimIdle(ctx, streamKey); err != nil {
			return err
		}

		// Reading from an explicit ID returns this consumer's pending
		// entries after it, so entries left pending again are not re-read
		lastID := "0"
		for {
			streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.opts.ConsumerGroup,
				Consumer: c.opts.ConsumerName,
				Streams:  []string{streamKey, lastID},
				Count:    recoverBatch,
				Block:    -1,
			}).Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read pending entries from %s: %w", streamKey, err)
			}

			n := 0
			for _, stream := range streams {
				for _, message := range stream.Messages {
					n++
					lastID = message.ID
					c.logger.WithFields(logrus.Fields{
						"message_id": message.ID,
						"stream":     streamKey,
					}).Info("Recovering pending job")
					if err := c.processMessage(ctx, message, streamKey, processor); err != nil {
						c.logger.WithError(err).WithField("message_id", message.ID).Error("Failed to process message")
					}
				}
			}
			if n == 0 || ctx.Err() != nil {
				break
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// claimIdle moves entries idle for at least ClaimIdle under other consumers
// to this one
func (c *RedisConsumer) claimIdle(ctx context.Context, streamKey string) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey,
		Group:  c.opts.ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to list pending entries on %s: %w", streamKey, err)
	}

	var ids []string
	for _, entry := range pending {
		if entry.Consumer != c.opts.ConsumerName && entry.Idle >= c.opts.ClaimIdle {
			ids = append(ids, entry.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := c.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   streamKey,
		Group:    c.opts.ConsumerGroup,
		Consumer: c.opts.ConsumerName,
		MinIdle:  c.opts.ClaimIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to claim idle entries on %s: %w", streamKey, err)
	}
	if len(claimed) > 0 {
		c.logger.WithFields(logrus.Fields{
			"stream":  streamKey,
			"claimed": len(claimed),
		}).Warn("Claimed idle jobs from another consumer")
	}
	return nil
}

// processMessage processes a single message. Once the processor returns,
// the outcome is recorded even if ctx has been cancelled.
func (c *RedisConsumer) processMessage(ctx context.Context, msg redis.XMessage, streamKey string, processor JobProcessor) error {
	start := time.Now()
	c.metrics.JobsProcessed.Inc()

	jobData, ok := msg.Values[jobDataField].(string)
	if !ok {
		c.ack(ctx, streamKey, msg.ID)
		return fmt.Errorf("invalid job data format in message %s", msg.ID)
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.ack(ctx, streamKey, msg.ID)
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	if job.ID == "" {
		job.ID = msg.ID
	}
	now := time.Now()
	job.DequeuedAt = &now

	logger := c.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": job.Type,
		"priority": job.Priority,
		"retry":    job.RetryCount,
	})
	logger.Info("Processing job")

	result, err := processor.ProcessJob(ctx, &job)
	c.metrics.ProcessingTime.Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.JobsFailed.Inc()
		logger.WithError(err).Error("Job processing failed")

		var handleErr error
		if job.RetryCount < job.MaxRetries {
			handleErr = c.requeueWithRetry(ctx, &job, err)
		} else {
			handleErr = c.moveToDeadLetter(ctx, &job, err)
		}
		if handleErr != nil {
			// Unacknowledged entries are replayed by recoverPending
			return handleErr
		}
		c.ack(ctx, streamKey, msg.ID)
		return nil
	}

	c.metrics.JobsSuccessful.Inc()

	if err := c.storeResult(ctx, job.ID, result); err != nil {
		logger.WithError(err).Warn("Failed to store job result")
	}

	logger.WithField("duration", time.Since(start).String()).Info("Job completed")
	c.ack(ctx, streamKey, msg.ID)
	return nil
}

// settleContext detaches a write from ctx cancellation so a finished job is
// still recorded during shutdown
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// ack acknowledges and removes a message so stream length tracks the backlog
func (c *RedisConsumer) ack(ctx context.Context, streamKey, id string) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	if err := c.client.XAck(ctx, streamKey, c.opts.ConsumerGroup, id).Err(); err != nil {
		c.logger.WithError(err).WithField("message_id", id).Warn("Failed to acknowledge message")
		return
	}
	if err := c.client.XDel(ctx, streamKey, id).Err(); err != nil {
		c.logger.WithError(err).WithField("message_id", id).Warn("Failed to delete message")
	}
}

// requeueWithRetry requeues a failed job with incremented retry count after
// the backoff. Cancelling ctx cuts the backoff short and requeues at once.
func (c *RedisConsumer) requeueWithRetry(ctx context.Context, job *Job, processingErr error) error {
	job.RetryCount++

	timer := time.NewTimer(c.opts.Backoff(job.RetryCount))
	select {
	case <-ctx.Done():
		timer.Stop()
		c.logger.WithField("job_id", job.ID).Info("Shutting down, requeueing job without backoff")
	case <-timer.C:
	}

	// Repeated failures drop one priority level
	if job.RetryCount > 2 && job.Priority > PriorityLow {
		job.Priority--
	}
	job.DequeuedAt = nil

	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	writeCtx, cancel := settleContext(ctx)
	defer cancel()

	if err := c.client.XAdd(writeCtx, &redis.XAddArgs{
		Stream: StreamFor(job.Priority),
		Values: map[string]interface{}{
			jobDataField:     string(jobData),
			"retry":          job.RetryCount,
			"original_error": processingErr.Error(),
		},
	}).Err(); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}

	c.metrics.JobsRetried.Inc()
	return nil
}

// moveToDeadLetter moves failed job to dead letter queue and records the failure
func (c *RedisConsumer) moveToDeadLetter(ctx context.Context, job *Job, processingErr error) error {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterKey,
		Values: map[string]interface{}{
			jobDataField:  string(jobData),
			"final_error": processingErr.Error(),
			"failed_at":   time.Now().Unix(),
		},
	}).Err(); err != nil {
		return fmt.Errorf("failed to dead letter job %s: %w", job.ID, err)
	}
	c.metrics.JobsDeadLetter.Inc()

	return c.writeStatus(ctx, models.TaskStatus{
		TaskID: job.ID,
		Status: models.TaskStatusFailed,
		Error:  processingErr.Error(),
	})
}

// storeResult stores job processing result
func (c *RedisConsumer) storeResult(ctx context.Context, jobID string, result interface{}) error {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	resultData, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return c.writeStatus(ctx, models.TaskStatus{
		TaskID: jobID,
		Status: models.TaskStatusSucceeded,
		Result: resultData,
	})
}

func (c *RedisConsumer) writeStatus(ctx context.Context, status models.TaskStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, resultKey(status.TaskID), data, c.opts.ResultTTL).Err()
}

// UpdateMetrics updates queue depth and pending job metrics
func (c *RedisConsumer) UpdateMetrics(ctx context.Context) {
	for priority, streamKey := range priorityQueues {
		length, err := c.client.XLen(ctx, streamKey).Result()
		if err != nil {
			c.logger.WithError(err).WithField("stream", streamKey).Debug("Failed to read stream length")
			continue
		}
		c.metrics.QueueDepth.WithLabelValues(strconv.Itoa(int(priority))).Set(float64(length))

		pending, err := c.client.XPending(ctx, streamKey, c.opts.ConsumerGroup).Result()
		if err != nil {
			c.logger.WithError(err).WithField("stream", streamKey).Debug("Failed to read pending jobs")
			continue
		}
		c.metrics.PendingJobs.WithLabelValues(streamKey).Set(float64(pending.Count))
	}
}

// RunMetricsLoop refreshes the queue metrics every interval until ctx ends
func (c *RedisConsumer) RunMetricsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.UpdateMetrics(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
