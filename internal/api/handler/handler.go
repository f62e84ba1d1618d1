package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/trnhan/transcribe-be/internal/api/dto"
	"github.com/trnhan/transcribe-be/internal/api/upload"
	"github.com/trnhan/transcribe-be/internal/config"
	"github.com/trnhan/transcribe-be/internal/jobstore"
	"github.com/trnhan/transcribe-be/internal/taskqueue"
	"github.com/trnhan/transcribe-be/internal/transcriber"
	"github.com/trnhan/transcribe-be/shared/rabbitmq"
	"github.com/trnhan/transcribe-be/shared/redisclient"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Config       *config.Config
	RedisClient  *redisclient.Client
	RabbitClient *rabbitmq.Client
}

// JobHandler handles transcription job HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	cfg      *config.Config
	store    *jobstore.Store
	queue    *taskqueue.Queue
	uploader *upload.Saver
	engine   *transcriber.Engine

	// ready reports whether the async backends are reachable; async
	// endpoints fail closed to 503 when it errors
	ready func(ctx context.Context) error
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	cfg := deps.Config

	return &JobHandler{
		logger: deps.Logger,
		cfg:    cfg,
		store:  jobstore.NewStore(deps.RedisClient.GetRedis(), deps.Logger),
		queue: taskqueue.NewQueue(
			deps.RedisClient.GetRedis(),
			deps.RabbitClient,
			deps.Logger,
			cfg.Transcribe.TaskResultExpiry,
		),
		uploader: upload.NewSaver(
			cfg.Transcribe.UploadDir,
			cfg.Transcribe.MaxUploadBytes,
			cfg.Transcribe.AllowedExtensions,
			deps.Logger,
		),
		engine: transcriber.NewEngine(cfg.Transcribe.WhisperBin, cfg.Transcribe.Threads, deps.Logger),
		ready: func(ctx context.Context) error {
			if err := deps.RedisClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("metadata store unreachable: %w", err)
			}
			if !deps.RabbitClient.IsConnected() {
				return fmt.Errorf("task queue unreachable")
			}
			return nil
		},
	}
}

// ModelHandler handles whisper model listing and download requests
type ModelHandler struct {
	logger     *slog.Logger
	cfg        *config.Config
	cache      *transcriber.ModelCache
	downloader *transcriber.Downloader
}

// NewModelHandler creates a new ModelHandler instance
func NewModelHandler(deps *Dependencies) *ModelHandler {
	cfg := deps.Config
	cache := transcriber.NewModelCache(cfg.Transcribe.ModelsDir)

	return &ModelHandler{
		logger: deps.Logger,
		cfg:    cfg,
		cache:  cache,
		downloader: transcriber.NewDownloader(
			http.DefaultClient,
			transcriber.DefaultModelBaseURL,
			cfg.Transcribe.ModelsDir,
			cache,
			deps.Logger,
		),
	}
}

// errorResponse writes the stable error envelope
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, dto.ErrorResponse{Status: "error", Message: message})
}
