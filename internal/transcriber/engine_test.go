package transcriber

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStubEngine creates a shell script standing in for the whisper
// binary so engine behavior can be tested without the real thing
func writeStubEngine(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "whisper-stub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func writeAudioFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFxxxxWAVE"), 0o644))
	return path
}

const sidecarScript = `
while [ $# -gt 0 ]; do
  if [ "$1" = "-f" ]; then audio="$2"; shift; fi
  shift
done
out="${audio%.*}.json"
printf '{"result":[{"text":" Hello"},{"text":"   "},{"text":"world. "}]}' > "$out"
`

func TestEngine_Transcribe(t *testing.T) {
	bin := writeStubEngine(t, sidecarScript)
	audio := writeAudioFile(t)

	engine := NewEngine(bin, 4, slog.Default())
	result, err := engine.Transcribe(context.Background(), Options{
		ModelPath: "/models/ggml-base.en.bin",
		AudioPath: audio,
	}, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "Hello world.", result.Text)
	assert.Len(t, result.Segments, 3)

	// Sidecar is deleted after a successful read
	_, err = os.Stat(SidecarPath(audio))
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_Transcribe_Timeout(t *testing.T) {
	bin := writeStubEngine(t, "sleep 5\n")
	audio := writeAudioFile(t)

	engine := NewEngine(bin, 4, slog.Default())
	_, err := engine.Transcribe(context.Background(), Options{
		ModelPath: "/models/ggml-base.en.bin",
		AudioPath: audio,
	}, 100*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "timeout")
}

func TestEngine_Transcribe_EngineFailure(t *testing.T) {
	bin := writeStubEngine(t, "echo 'failed to load model' >&2\nexit 1\n")
	audio := writeAudioFile(t)

	engine := NewEngine(bin, 4, slog.Default())
	_, err := engine.Transcribe(context.Background(), Options{
		ModelPath: "/models/ggml-base.en.bin",
		AudioPath: audio,
	}, time.Minute)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcription failed")
	assert.Contains(t, err.Error(), "failed to load model")
}

func TestEngine_Transcribe_NoSidecar(t *testing.T) {
	bin := writeStubEngine(t, "exit 0\n")
	audio := writeAudioFile(t)

	engine := NewEngine(bin, 4, slog.Default())
	_, err := engine.Transcribe(context.Background(), Options{
		ModelPath: "/models/ggml-base.en.bin",
		AudioPath: audio,
	}, time.Minute)

	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestEngine_Transcribe_Cancelled(t *testing.T) {
	bin := writeStubEngine(t, "sleep 5\n")
	audio := writeAudioFile(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	engine := NewEngine(bin, 4, slog.Default())
	_, err := engine.Transcribe(ctx, Options{
		ModelPath: "/models/ggml-base.en.bin",
		AudioPath: audio,
	}, time.Minute)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseSidecar(t *testing.T) {
	tests := []struct {
		name         string
		data         string
		wantText     string
		wantSegments int
		wantErr      bool
	}{
		{
			name:         "result segment list",
			data:         `{"result":[{"text":" One"},{"text":"two "},{"text":" three "}]}`,
			wantText:     "One two three",
			wantSegments: 3,
		},
		{
			name:         "empty segment texts skipped",
			data:         `{"result":[{"text":"start"},{"text":""},{"text":"   "},{"text":"end"}]}`,
			wantText:     "start end",
			wantSegments: 4,
		},
		{
			name:         "transcription shape",
			data:         `{"transcription":"full text here","segments":[{"text":"full text here"}]}`,
			wantText:     "full text here",
			wantSegments: 1,
		},
		{
			name:     "empty object",
			data:     `{}`,
			wantText: "",
		},
		{
			name:    "invalid json",
			data:    `{"result": [`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseSidecar([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, result.Text)
			assert.Len(t, result.Segments, tt.wantSegments)
		})
	}
}

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "/app/uploads/audio.json", SidecarPath("/app/uploads/audio.wav"))
	assert.Equal(t, "/app/uploads/a.b.json", SidecarPath("/app/uploads/a.b.mp3"))
}
