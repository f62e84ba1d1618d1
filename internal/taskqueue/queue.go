// Package taskqueue is the dispatch layer between the gateway and the
// worker pool. Messages travel over RabbitMQ with at-least-once
// delivery; the native per-task state lives in Redis under its own
// expiry, independent of the job metadata record.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix   = "task:"
	revokeKeyPrefix = "revoke:"
)

// Task is one dispatch unit. The worker re-derives everything it needs
// from this message, so a re-delivered task is safe to process again.
type Task struct {
	JobID       string    `json:"job_id"`
	AudioPath   string    `json:"audio_path"`
	Model       string    `json:"model"`
	Language    string    `json:"language"`
	Filename    string    `json:"filename"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Publisher is the broker-side publish contract, satisfied by the
// shared RabbitMQ client
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Queue dispatches tasks and tracks their native state
type Queue struct {
	rdb          *redis.Client
	pub          Publisher
	logger       *slog.Logger
	resultExpiry time.Duration
}

// NewQueue creates a task queue instance. resultExpiry bounds how long
// native task state outlives the task.
func NewQueue(rdb *redis.Client, pub Publisher, logger *slog.Logger, resultExpiry time.Duration) *Queue {
	return &Queue{
		rdb:          rdb,
		pub:          pub,
		logger:       logger,
		resultExpiry: resultExpiry,
	}
}

func taskKey(jobID string) string {
	return taskKeyPrefix + jobID
}

func revokeKey(jobID string) string {
	return revokeKeyPrefix + jobID
}

// Enqueue assigns a job id, records the task as PENDING, and publishes
// the dispatch message. A publish failure surfaces as an error so the
// caller never silently drops a submission.
func (q *Queue) Enqueue(ctx context.Context, task *Task) (string, error) {
	if task.JobID == "" {
		task.JobID = uuid.New().String()
	}

	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	key := taskKey(task.JobID)
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, key, "state", string(StatePending))
	pipe.Expire(ctx, key, q.resultExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to record task state: %w", err)
	}

	if err := q.pub.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.Info("Task enqueued",
		slog.String("job_id", task.JobID),
		slog.String("model", task.Model),
	)

	return task.JobID, nil
}

// Status returns the native state of a task. An id without a state
// record maps to PENDING: either the task was never seen or its state
// already expired, and the two are indistinguishable here.
func (q *Queue) Status(ctx context.Context, jobID string) (Status, error) {
	fields, err := q.rdb.HGetAll(ctx, taskKey(jobID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("failed to get task state: %w", err)
	}

	if len(fields) == 0 {
		return Status{State: StatePending, Progress: ProgressUnknown}, nil
	}

	status := Status{
		State:    State(fields["state"]),
		Progress: ProgressUnknown,
		Message:  fields["message"],
		Result:   fields["result"],
	}

	if raw, ok := fields["progress"]; ok {
		if p, err := strconv.Atoi(raw); err == nil {
			status.Progress = p
		}
	}

	return status, nil
}

// UpdateState records in-flight progress. Only the worker that owns the
// task calls this.
func (q *Queue) UpdateState(ctx context.Context, jobID string, progress int, message string) error {
	key := taskKey(jobID)
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"state":    string(StateProcessing),
		"progress": progress,
		"message":  message,
	})
	pipe.Expire(ctx, key, q.resultExpiry)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update task state: %w", err)
	}
	return nil
}

// SetSuccess stores the terminal SUCCESS state with the result payload
func (q *Queue) SetSuccess(ctx context.Context, jobID, resultJSON string) error {
	return q.setTerminal(ctx, jobID, map[string]interface{}{
		"state":    string(StateSuccess),
		"progress": 100,
		"message":  "Transcription completed",
		"result":   resultJSON,
	})
}

// SetFailure stores the terminal FAILURE state with an error message
func (q *Queue) SetFailure(ctx context.Context, jobID, message string) error {
	return q.setTerminal(ctx, jobID, map[string]interface{}{
		"state":    string(StateFailure),
		"progress": 0,
		"message":  message,
	})
}

// SetRevoked stores the terminal REVOKED state
func (q *Queue) SetRevoked(ctx context.Context, jobID string) error {
	return q.setTerminal(ctx, jobID, map[string]interface{}{
		"state":    string(StateRevoked),
		"progress": 0,
		"message":  "Job cancelled",
	})
}

func (q *Queue) setTerminal(ctx context.Context, jobID string, fields map[string]interface{}) error {
	key := taskKey(jobID)
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, q.resultExpiry)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store terminal task state: %w", err)
	}
	return nil
}

// Revoke signals best-effort cancellation. The flag is observed by the
// worker before and during execution; there is no guarantee the
// in-flight subprocess terminates.
func (q *Queue) Revoke(ctx context.Context, jobID string) error {
	if err := q.rdb.Set(ctx, revokeKey(jobID), "1", q.resultExpiry).Err(); err != nil {
		return fmt.Errorf("failed to set revoke flag: %w", err)
	}

	status, err := q.Status(ctx, jobID)
	if err != nil {
		return err
	}

	// A task that never started can be marked revoked immediately;
	// anything in flight is up to the owning worker.
	if status.State == StatePending {
		if err := q.SetRevoked(ctx, jobID); err != nil {
			return err
		}
	}

	q.logger.Info("Task revoke requested",
		slog.String("job_id", jobID),
		slog.String("state", string(status.State)),
	)

	return nil
}

// IsRevoked reports whether cancellation was requested for a task
func (q *Queue) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	n, err := q.rdb.Exists(ctx, revokeKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoke flag: %w", err)
	}
	return n > 0, nil
}
