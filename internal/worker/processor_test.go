package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trnhan/transcribe-be/internal/jobstore"
	"github.com/trnhan/transcribe-be/internal/taskqueue"
	"github.com/trnhan/transcribe-be/internal/transcriber"
)

type noopPublisher struct{}

func (noopPublisher) PublishWithRetry(context.Context, []byte, string) error { return nil }

type workerFixture struct {
	worker    *Worker
	store     *jobstore.Store
	queue     *taskqueue.Queue
	modelsDir string
}

const stubEngineScript = `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = "-f" ]; then audio="$2"; shift; fi
  shift
done
out="${audio%.*}.json"
printf '{"result":[{"text":" Hello"},{"text":"world. "}]}' > "$out"
`

func newWorkerFixture(t *testing.T, engineScript string) *workerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.Default()
	store := jobstore.NewStore(rdb, logger)
	queue := taskqueue.NewQueue(rdb, noopPublisher{}, logger, time.Hour)

	bin := filepath.Join(t.TempDir(), "whisper-stub")
	require.NoError(t, os.WriteFile(bin, []byte(engineScript), 0o755))

	modelsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "ggml-base.en.bin"), []byte("model"), 0o644))

	w := NewWorker(&Config{
		Logger:      logger,
		Store:       store,
		Queue:       queue,
		Engine:      transcriber.NewEngine(bin, 1, logger),
		ModelsDir:   modelsDir,
		Concurrency: 1,
		JobTimeout:  time.Minute,
	})

	return &workerFixture{worker: w, store: store, queue: queue, modelsDir: modelsDir}
}

func (f *workerFixture) newTask(t *testing.T) *taskqueue.Task {
	t.Helper()

	audio := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFFxxxxWAVE"), 0o644))

	ctx := context.Background()
	task := &taskqueue.Task{
		AudioPath:   audio,
		Model:       "base.en",
		Language:    "auto",
		Filename:    "clip.wav",
		SubmittedAt: time.Now().UTC(),
	}

	jobID, err := f.queue.Enqueue(ctx, task)
	require.NoError(t, err)

	require.NoError(t, f.store.Create(ctx, jobID, map[string]interface{}{
		jobstore.FieldStatus:      jobstore.StatusSubmitted,
		jobstore.FieldModel:       task.Model,
		jobstore.FieldLanguage:    task.Language,
		jobstore.FieldFilename:    task.Filename,
		jobstore.FieldSubmittedAt: task.SubmittedAt.Format(time.RFC3339),
	}, 24*time.Hour))

	return task
}

func TestProcessTask_Success(t *testing.T) {
	f := newWorkerFixture(t, stubEngineScript)
	task := f.newTask(t)
	ctx := context.Background()

	f.worker.processTask(ctx, task)

	st, err := f.queue.Status(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StateSuccess, st.State)
	assert.Equal(t, 100, st.Progress)

	var result taskResult
	require.NoError(t, json.Unmarshal([]byte(st.Result), &result))
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "Hello world.", result.Text)
	assert.Equal(t, 2, result.SegmentCount)
	assert.Equal(t, task.JobID, result.JobID)

	meta, err := f.store.GetAll(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, meta[jobstore.FieldStatus])
	assert.Equal(t, "100", meta[jobstore.FieldProgress])
	assert.NotEmpty(t, meta[jobstore.FieldCompletedAt])

	// Input file is removed after processing
	_, err = os.Stat(task.AudioPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessTask_EngineFailure(t *testing.T) {
	f := newWorkerFixture(t, "#!/bin/sh\necho 'failed to load model' >&2\nexit 1\n")
	task := f.newTask(t)
	ctx := context.Background()

	f.worker.processTask(ctx, task)

	st, err := f.queue.Status(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StateFailure, st.State)
	assert.Contains(t, st.Message, "failed to load model")

	meta, err := f.store.GetAll(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFailed, meta[jobstore.FieldStatus])
	assert.Contains(t, meta[jobstore.FieldError], "failed to load model")

	// Input file is removed on failure too
	_, err = os.Stat(task.AudioPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessTask_MissingAudioFile(t *testing.T) {
	f := newWorkerFixture(t, stubEngineScript)
	task := f.newTask(t)
	require.NoError(t, os.Remove(task.AudioPath))

	ctx := context.Background()
	f.worker.processTask(ctx, task)

	st, err := f.queue.Status(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StateFailure, st.State)
	assert.Contains(t, st.Message, "audio file not found")
}

func TestProcessTask_MissingModel(t *testing.T) {
	f := newWorkerFixture(t, stubEngineScript)
	task := f.newTask(t)
	task.Model = "large-v3"

	ctx := context.Background()
	f.worker.processTask(ctx, task)

	st, err := f.queue.Status(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StateFailure, st.State)
	assert.Contains(t, st.Message, "not available")
}

func TestProcessTask_RevokedBeforeStart(t *testing.T) {
	f := newWorkerFixture(t, stubEngineScript)
	task := f.newTask(t)
	ctx := context.Background()

	require.NoError(t, f.queue.Revoke(ctx, task.JobID))

	f.worker.processTask(ctx, task)

	st, err := f.queue.Status(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StateRevoked, st.State)

	meta, err := f.store.GetAll(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCancelled, meta[jobstore.FieldStatus])

	// No engine run happened; the input is still cleaned up
	_, err = os.Stat(task.AudioPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessTask_TimeoutRecordsFailure(t *testing.T) {
	f := newWorkerFixture(t, "#!/bin/sh\nsleep 5\n")
	f.worker.jobTimeout = 100 * time.Millisecond
	task := f.newTask(t)

	ctx := context.Background()
	f.worker.processTask(ctx, task)

	st, err := f.queue.Status(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StateFailure, st.State)
	assert.Contains(t, st.Message, "timeout")
}
