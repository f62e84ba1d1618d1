// Package worker consumes transcription tasks from the broker, runs the
// whisper.cpp engine, and records terminal state in both the task state
// backend and the job metadata store.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trnhan/transcribe-be/internal/jobstore"
	"github.com/trnhan/transcribe-be/internal/taskqueue"
	"github.com/trnhan/transcribe-be/internal/transcriber"
	"github.com/trnhan/transcribe-be/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Store         *jobstore.Store
	Queue         *taskqueue.Queue
	Engine        *transcriber.Engine
	ModelsDir     string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
	QueueName     string
}

// Worker represents the background transcription worker
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	store         *jobstore.Store
	queue         *taskqueue.Queue
	engine        *transcriber.Engine
	modelsDir     string
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	queueName     string
	jobsChan      chan *taskMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// taskMessage pairs a parsed task with its broker delivery tag
type taskMessage struct {
	Task        *taskqueue.Task
	DeliveryTag uint64
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		store:         cfg.Store,
		queue:         cfg.Queue,
		engine:        cfg.Engine,
		modelsDir:     cfg.ModelsDir,
		workerID:      fmt.Sprintf("transcribe-worker-%s", uuid.New().String()[:8]),
		concurrency:   cfg.Concurrency,
		prefetchCount: prefetch,
		jobTimeout:    cfg.JobTimeout,
		queueName:     cfg.QueueName,
		jobsChan:      make(chan *taskMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing tasks
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	go w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker, waiting for in-flight tasks
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
}
