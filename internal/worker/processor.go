package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/trnhan/transcribe-be/internal/jobstore"
	"github.com/trnhan/transcribe-be/internal/taskqueue"
	"github.com/trnhan/transcribe-be/internal/transcriber"
)

// revokePollInterval bounds how quickly an in-flight task notices a
// cancellation request
const revokePollInterval = 2 * time.Second

// taskResult is the payload stored for a successful transcription
type taskResult struct {
	Status       string            `json:"status"`
	JobID        string            `json:"job_id"`
	Text         string            `json:"text"`
	Segments     []json.RawMessage `json:"segments"`
	Model        string            `json:"model"`
	Language     string            `json:"language"`
	FileSizeMB   float64           `json:"file_size_mb"`
	SegmentCount int               `json:"segment_count"`
	CompletedAt  string            `json:"completed_at"`
}

// processTask runs one transcription end to end. Every exit path
// records a terminal state and removes the input file; the caller acks
// unconditionally afterwards.
func (w *Worker) processTask(ctx context.Context, task *taskqueue.Task) {
	jobID := task.JobID

	defer func() {
		if err := os.Remove(task.AudioPath); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("Failed to remove audio file",
				slog.String("job_id", jobID),
				slog.String("path", task.AudioPath),
				slog.Any("error", err),
			)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic while processing task",
				slog.String("job_id", jobID),
				slog.Any("panic", r),
			)
			w.recordFailure(ctx, jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// A task revoked while still queued is dropped before any work
	if revoked, err := w.queue.IsRevoked(ctx, jobID); err == nil && revoked {
		w.recordRevoked(ctx, jobID)
		return
	}

	if err := w.queue.UpdateState(ctx, jobID, 10, "Starting transcription"); err != nil {
		w.logger.Warn("Failed to update task state",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
	w.updateMetadata(ctx, jobID, map[string]interface{}{
		jobstore.FieldStatus:   jobstore.StatusProcessing,
		jobstore.FieldProgress: 10,
	})

	info, err := os.Stat(task.AudioPath)
	if err != nil {
		w.recordFailure(ctx, jobID, fmt.Sprintf("audio file not found: %s", task.AudioPath))
		return
	}

	modelPath, err := transcriber.ResolveModelPath(task.Model, w.modelsDir)
	if err != nil {
		w.recordFailure(ctx, jobID, fmt.Sprintf("model %q not available on worker", task.Model))
		return
	}

	if err := w.queue.UpdateState(ctx, jobID, 30, "Processing audio"); err != nil {
		w.logger.Warn("Failed to update task state",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
	w.updateMetadata(ctx, jobID, map[string]interface{}{
		jobstore.FieldProgress: 30,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Watch the revoke flag while the engine runs so a cancellation
	// terminates the subprocess instead of waiting it out
	watcherDone := make(chan struct{})
	var revokedMidFlight bool
	go func() {
		defer close(watcherDone)
		ticker := time.NewTicker(revokePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if revoked, err := w.queue.IsRevoked(runCtx, jobID); err == nil && revoked {
					revokedMidFlight = true
					cancel()
					return
				}
			}
		}
	}()

	result, err := w.engine.Transcribe(runCtx, transcriber.Options{
		ModelPath: modelPath,
		AudioPath: task.AudioPath,
		Language:  task.Language,
	}, w.jobTimeout)

	cancel()
	<-watcherDone

	if err != nil {
		switch {
		case revokedMidFlight:
			w.recordRevoked(ctx, jobID)
		case errors.Is(err, transcriber.ErrTimeout):
			w.recordFailure(ctx, jobID, err.Error())
		case errors.Is(runCtx.Err(), context.Canceled) && ctx.Err() != nil:
			// Worker shutdown mid-run; leave the task in PROCESSING so a
			// redelivery can pick it up
			w.logger.Warn("Task interrupted by shutdown",
				slog.String("job_id", jobID),
			)
		default:
			w.recordFailure(ctx, jobID, err.Error())
		}
		return
	}

	payload := taskResult{
		Status:       "success",
		JobID:        jobID,
		Text:         result.Text,
		Segments:     result.Segments,
		Model:        task.Model,
		Language:     task.Language,
		FileSizeMB:   float64(info.Size()) / (1024 * 1024),
		SegmentCount: len(result.Segments),
		CompletedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	resultJSON, err := json.Marshal(payload)
	if err != nil {
		w.recordFailure(ctx, jobID, fmt.Sprintf("failed to encode result: %v", err))
		return
	}

	if err := w.queue.SetSuccess(ctx, jobID, string(resultJSON)); err != nil {
		w.logger.Error("Failed to store task result",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
	w.updateMetadata(ctx, jobID, map[string]interface{}{
		jobstore.FieldStatus:      jobstore.StatusCompleted,
		jobstore.FieldProgress:    100,
		jobstore.FieldResult:      string(resultJSON),
		jobstore.FieldCompletedAt: payload.CompletedAt,
	})

	w.logger.Info("Transcription completed",
		slog.String("job_id", jobID),
		slog.String("model", task.Model),
		slog.Int("segments", payload.SegmentCount),
	)
}

// recordFailure mirrors a terminal failure into both stores
func (w *Worker) recordFailure(ctx context.Context, jobID, message string) {
	w.logger.Error("Task failed",
		slog.String("job_id", jobID),
		slog.String("error", message),
	)

	if err := w.queue.SetFailure(ctx, jobID, message); err != nil {
		w.logger.Error("Failed to store failure state",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
	w.updateMetadata(ctx, jobID, map[string]interface{}{
		jobstore.FieldStatus: jobstore.StatusFailed,
		jobstore.FieldError:  message,
	})
}

// recordRevoked mirrors a cancellation into both stores
func (w *Worker) recordRevoked(ctx context.Context, jobID string) {
	w.logger.Info("Task revoked", slog.String("job_id", jobID))

	if err := w.queue.SetRevoked(ctx, jobID); err != nil {
		w.logger.Error("Failed to store revoked state",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
	w.updateMetadata(ctx, jobID, map[string]interface{}{
		jobstore.FieldStatus: jobstore.StatusCancelled,
	})
}

// updateMetadata merges fields into the job metadata record, tolerating
// an expired record
func (w *Worker) updateMetadata(ctx context.Context, jobID string, fields map[string]interface{}) {
	if err := w.store.UpdateFields(ctx, jobID, fields); err != nil {
		w.logger.Warn("Failed to update job metadata",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}
