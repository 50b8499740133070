package queue

import (
	"context"
	"errors"
	"time"
)

// Priority selects the stream a job is queued on
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityRealtime
)

const (
	keyPrefix     = "docproc"
	deadLetterKey = keyPrefix + ":dead_letter"
	jobDataField  = "job_data"

	// DefaultMaxRetries is used when a job is enqueued without a retry budget
	DefaultMaxRetries = 3
	// DefaultResultTTL is how long job results are kept
	DefaultResultTTL = time.Hour
)

// ErrResultNotFound is returned while a job has no stored result
var ErrResultNotFound = errors.New("job result not found")

// priorityQueues maps each priority to its stream
var priorityQueues = map[Priority]string{
	PriorityLow:      keyPrefix + ":queue:low",
	PriorityNormal:   keyPrefix + ":queue:normal",
	PriorityHigh:     keyPrefix + ":queue:high",
	PriorityRealtime: keyPrefix + ":queue:realtime",
}

// StreamFor returns the stream key of a priority, clamping out of range values
func StreamFor(p Priority) string {
	if p < PriorityLow {
		p = PriorityLow
	}
	if p > PriorityRealtime {
		p = PriorityRealtime
	}
	return priorityQueues[p]
}

func resultKey(jobID string) string {
	return keyPrefix + ":result:" + jobID
}

// Job represents a processing job
type Job struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Priority   Priority               `json:"priority"`
	Data       map[string]interface{} `json:"data"`
	CreatedAt  time.Time              `json:"created_at"`
	DequeuedAt *time.Time             `json:"dequeued_at,omitempty"`
	RetryCount int                    `json:"retry_count"`
	MaxRetries int                    `json:"max_retries"`
}

// StringData returns a string field of the job payload
func (j *Job) StringData(name string) (string, bool) {
	v, ok := j.Data[name].(string)
	return v, ok
}

// JobProcessor interface for processing jobs
type JobProcessor interface {
	ProcessJob(ctx context.Context, job *Job) (interface{}, error)
}

// JobProcessorFunc adapts a function to JobProcessor
type JobProcessorFunc func(ctx context.Context, job *Job) (interface{}, error)

// ProcessJob calls f(ctx, job)
func (f JobProcessorFunc) ProcessJob(ctx context.Context, job *Job) (interface{}, error) {
	return f(ctx, job)
}

// QuadraticBackoff waits retry² seconds before a job is requeued
func QuadraticBackoff(retry int) time.Duration {
	return time.Duration(retry*retry) * time.Second
}
