package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/trnhan/transcribe-be/internal/api/dto"
	"github.com/trnhan/transcribe-be/internal/api/upload"
	"github.com/trnhan/transcribe-be/internal/jobstore"
	"github.com/trnhan/transcribe-be/internal/taskqueue"
	"github.com/trnhan/transcribe-be/internal/transcriber"
)

const defaultListLimit = 50

// Submit accepts an audio file or a remote URL, persists the input,
// records job metadata, and dispatches the task to the worker pool
func (h *JobHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.ready(ctx); err != nil {
		h.logger.Error("Async backends unavailable", slog.Any("error", err))
		errorResponse(c, http.StatusServiceUnavailable, "Async processing not available")
		return
	}

	var req dto.SubmitRequest
	// Bind errors are tolerated: a bare multipart upload carries no
	// bindable body at all
	_ = c.ShouldBind(&req)

	audioPath, filename, ok := h.acquireAudio(c, &req)
	if !ok {
		return
	}

	model := req.Model
	if model == "" {
		model = h.cfg.Transcribe.DefaultModel
	}
	language := req.Language
	if language == "" {
		language = "auto"
	}

	submittedAt := time.Now().UTC()
	task := &taskqueue.Task{
		AudioPath:   audioPath,
		Model:       model,
		Language:    language,
		Filename:    filename,
		SubmittedAt: submittedAt,
	}

	jobID, err := h.queue.Enqueue(ctx, task)
	if err != nil {
		os.Remove(audioPath)
		h.logger.Error("Failed to enqueue job", slog.Any("error", err))
		errorResponse(c, http.StatusInternalServerError, "Failed to submit transcription job")
		return
	}

	fields := map[string]interface{}{
		jobstore.FieldStatus:      jobstore.StatusSubmitted,
		jobstore.FieldModel:       model,
		jobstore.FieldLanguage:    language,
		jobstore.FieldFilename:    filename,
		jobstore.FieldSubmittedAt: submittedAt.Format(time.RFC3339),
	}
	if err := h.store.Create(ctx, jobID, fields, h.cfg.Transcribe.JobResultExpiry); err != nil {
		os.Remove(audioPath)
		h.logger.Error("Failed to create job metadata",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		errorResponse(c, http.StatusInternalServerError, "Failed to submit transcription job")
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("model", model),
		slog.String("filename", filename),
	)

	c.JSON(http.StatusAccepted, dto.SubmitResponse{
		Status:    "accepted",
		JobID:     jobID,
		Message:   "Transcription job submitted successfully",
		PollURL:   fmt.Sprintf("/api/v1/jobs/%s", jobID),
		ResultURL: fmt.Sprintf("/api/v1/jobs/%s/result", jobID),
	})
}

// acquireAudio resolves the job input from either a multipart upload or
// a file_url, writing the error response itself on failure
func (h *JobHandler) acquireAudio(c *gin.Context, req *dto.SubmitRequest) (path, filename string, ok bool) {
	if fh, err := c.FormFile("file"); err == nil {
		path, err := h.uploader.SaveMultipart(fh)
		if err != nil {
			h.writeUploadError(c, err)
			return "", "", false
		}
		return path, fh.Filename, true
	}

	if req.FileURL != "" {
		path, err := h.uploader.DownloadFromURL(c.Request.Context(), req.FileURL)
		if err != nil {
			h.writeUploadError(c, err)
			return "", "", false
		}
		return path, filepath.Base(path), true
	}

	errorResponse(c, http.StatusBadRequest, `No audio file or URL provided. Send "file" or "file_url"`)
	return "", "", false
}

func (h *JobHandler) writeUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		errorResponse(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, upload.ErrEmptyFilename),
		errors.Is(err, upload.ErrEmptyFile),
		errors.Is(err, upload.ErrUnsupportedFormat),
		errors.Is(err, upload.ErrInvalidURL),
		errors.Is(err, upload.ErrDownload):
		errorResponse(c, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Failed to store audio input", slog.Any("error", err))
		errorResponse(c, http.StatusInternalServerError, "Failed to store audio input")
	}
}

// GetStatus returns the unified status of a job, merging the task
// queue's native state with the metadata record
func (h *JobHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("job_id")

	meta, err := h.store.GetAll(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error("Failed to load job metadata", slog.Any("error", err))
		errorResponse(c, http.StatusInternalServerError, "Failed to get job status")
		return
	}

	st, err := h.queue.Status(ctx, jobID)
	if err != nil {
		h.logger.Error("Failed to load task state", slog.Any("error", err))
		errorResponse(c, http.StatusInternalServerError, "Failed to get job status")
		return
	}

	unified := st.Unified()

	resp := dto.JobStatusResponse{
		JobID:       jobID,
		Status:      unified.Status,
		Progress:    unified.Progress,
		Message:     unified.Message,
		NativeState: string(st.State),
		SubmittedAt: meta[jobstore.FieldSubmittedAt],
		Model:       meta[jobstore.FieldModel],
		Language:    meta[jobstore.FieldLanguage],
	}

	// Task state expires before the metadata record; a finished job with
	// an expired task record still reports its stored terminal status
	if st.State == taskqueue.StatePending {
		switch meta[jobstore.FieldStatus] {
		case jobstore.StatusCompleted:
			resp.Status = jobstore.StatusCompleted
			resp.Progress = 100
			resp.Message = "Transcription completed"
		case jobstore.StatusFailed:
			resp.Status = jobstore.StatusFailed
			resp.Message = meta[jobstore.FieldError]
		case jobstore.StatusCancelled:
			resp.Status = jobstore.StatusCancelled
			resp.Message = "Job cancelled"
		}
	}

	if resp.Status == jobstore.StatusCompleted {
		resp.ResultURL = fmt.Sprintf("/api/v1/jobs/%s/result", jobID)
	}

	c.JSON(http.StatusOK, resp)
}

// GetResult returns the transcription result of a finished job. A job
// still in flight answers 202, a failed job 400, an unknown id 404.
func (h *JobHandler) GetResult(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("job_id")

	meta, err := h.store.GetAll(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error("Failed to load job metadata", slog.Any("error", err))
		errorResponse(c, http.StatusInternalServerError, "Failed to get job result")
		return
	}

	st, err := h.queue.Status(ctx, jobID)
	if err != nil {
		h.logger.Error("Failed to load task state", slog.Any("error", err))
		errorResponse(c, http.StatusInternalServerError, "Failed to get job result")
		return
	}

	switch st.State {
	case taskqueue.StateSuccess:
		result := st.Result
		if result == "" {
			result = meta[jobstore.FieldResult]
		}
		h.writeRawResult(c, result)

	case taskqueue.StateFailure:
		message := st.Message
		if message == "" {
			message = "Unknown error"
		}
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("Job failed: %s", message))

	case taskqueue.StatePending:
		// The task record may have expired while the metadata survives;
		// fall back to the stored terminal status
		switch meta[jobstore.FieldStatus] {
		case jobstore.StatusCompleted:
			h.writeRawResult(c, meta[jobstore.FieldResult])
		case jobstore.StatusFailed:
			errorResponse(c, http.StatusBadRequest, fmt.Sprintf("Job failed: %s", meta[jobstore.FieldError]))
		default:
			c.JSON(http.StatusAccepted, gin.H{
				"status":  "pending",
				"message": "Job not yet started",
			})
		}

	default:
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "processing",
			"message": fmt.Sprintf("Job still processing (state: %s)", st.State),
		})
	}
}

// writeRawResult emits a stored result payload verbatim as JSON
func (h *JobHandler) writeRawResult(c *gin.Context, result string) {
	if result == "" {
		errorResponse(c, http.StatusBadRequest, "Job result no longer available")
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(result))
}

// Cancel requests best-effort cancellation of a job. The metadata
// status flips to cancelled regardless of how far the task got; a
// result already stored stays readable.
func (h *JobHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("job_id")

	if _, err := h.store.GetAll(ctx, jobID); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error("Failed to load job metadata", slog.Any("error", err))
		errorResponse(c, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	if err := h.queue.Revoke(ctx, jobID); err != nil {
		h.logger.Error("Failed to revoke task",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		errorResponse(c, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	if err := h.store.SetStatus(ctx, jobID, jobstore.StatusCancelled); err != nil {
		h.logger.Error("Failed to mark job cancelled",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		errorResponse(c, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	h.logger.Info("Job cancellation requested", slog.String("job_id", jobID))

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"job_id":  jobID,
		"message": "Job cancellation requested",
	})
}

// List returns a bounded listing of known jobs, optionally filtered by
// unified status. Filtering happens after the status mapping, so the
// page may come back shorter than the limit.
func (h *JobHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	statusFilter := c.Query("status")

	keys, err := h.store.ScanKeys(ctx, limit)
	if err != nil {
		h.logger.Error("Failed to scan job keys", slog.Any("error", err))
		errorResponse(c, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	jobs := make([]dto.JobSummary, 0, len(keys))
	for _, key := range keys {
		jobID := jobstore.JobID(key)

		meta, err := h.store.GetAll(ctx, jobID)
		if err != nil {
			// Expired between scan and read
			continue
		}

		st, err := h.queue.Status(ctx, jobID)
		if err != nil {
			continue
		}

		unified := st.Unified()
		status := unified.Status
		if st.State == taskqueue.StatePending {
			if stored := meta[jobstore.FieldStatus]; stored != jobstore.StatusSubmitted && stored != "" {
				status = stored
			}
		}

		if statusFilter != "" && status != statusFilter {
			continue
		}

		jobs = append(jobs, dto.JobSummary{
			JobID:       jobID,
			Status:      status,
			NativeState: string(st.State),
			SubmittedAt: meta[jobstore.FieldSubmittedAt],
			Model:       meta[jobstore.FieldModel],
			Filename:    meta[jobstore.FieldFilename],
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Status: "success",
		Jobs:   jobs,
		Count:  len(jobs),
	})
}

// Transcribe runs a transcription synchronously within the request.
// Intended for short clips; long audio belongs on the async path.
func (h *JobHandler) Transcribe(c *gin.Context) {
	var req dto.SubmitRequest
	_ = c.ShouldBind(&req)

	audioPath, _, ok := h.acquireAudio(c, &req)
	if !ok {
		return
	}
	defer os.Remove(audioPath)

	model := req.Model
	if model == "" {
		model = h.cfg.Transcribe.DefaultModel
	}

	modelPath, err := transcriber.ResolveModelPath(model, h.cfg.Transcribe.ModelsDir)
	if err != nil {
		errorResponse(c, http.StatusBadRequest,
			fmt.Sprintf("Model %q is not downloaded. Use POST /api/v1/download-model/%s first", model, model))
		return
	}

	result, err := h.engine.Transcribe(c.Request.Context(), transcriber.Options{
		ModelPath: modelPath,
		AudioPath: audioPath,
		Language:  req.Language,
	}, h.cfg.Transcribe.SyncTimeout)
	if err != nil {
		if errors.Is(err, transcriber.ErrTimeout) || errors.Is(err, transcriber.ErrNoOutput) {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Synchronous transcription failed", slog.Any("error", err))
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	language := req.Language
	if language == "" {
		language = "auto"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"text":     result.Text,
		"segments": result.Segments,
		"model":    model,
		"language": language,
	})
}

// Info reports service configuration useful to API clients
func (h *JobHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":       h.cfg.App.Name,
		"version":       h.cfg.App.Version,
		"api_version":   "v1",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"upload_path":   h.cfg.Transcribe.UploadDir,
		"model_path":    h.cfg.Transcribe.ModelsDir,
		"threads":       h.cfg.Transcribe.Threads,
		"max_upload_mb": h.cfg.Transcribe.MaxUploadBytes / (1024 * 1024),
		"async_enabled": h.ready(c.Request.Context()) == nil,
	})
}
