// Package transcriber wraps the whisper.cpp binary. The engine is a
// black box: it is handed an audio file, runs as an isolated
// subprocess, and leaves a JSON sidecar next to the input.
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTimeout marks an engine run that exceeded its wall-clock budget
	ErrTimeout = errors.New("transcription timeout")

	// ErrNoOutput marks a run whose sidecar file is missing or unparsable
	ErrNoOutput = errors.New("no output generated from whisper")
)

// Engine invokes whisper.cpp as a subprocess
type Engine struct {
	bin     string
	threads int
	logger  *slog.Logger
}

// NewEngine creates an engine wrapper around the whisper.cpp binary
func NewEngine(bin string, threads int, logger *slog.Logger) *Engine {
	return &Engine{
		bin:     bin,
		threads: threads,
		logger:  logger,
	}
}

// Options describe one transcription run
type Options struct {
	ModelPath string
	AudioPath string
	Language  string
}

// Result holds the extracted transcript and the raw segments as the
// engine produced them
type Result struct {
	Text     string
	Segments []json.RawMessage
}

// SidecarPath returns where the engine writes its JSON output for a
// given input file (the input's extension replaced with .json)
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

// Transcribe runs the engine under a hard timeout and parses the
// sidecar output. The sidecar is removed after a successful read.
func (e *Engine) Transcribe(ctx context.Context, opts Options, timeout time.Duration) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-m", opts.ModelPath, "-f", opts.AudioPath}
	if opts.Language != "" && opts.Language != "auto" {
		args = append(args, "-l", opts.Language)
	}
	args = append(args, "--output-json", "--threads", strconv.Itoa(e.threads))

	e.logger.Info("Running transcription",
		slog.String("bin", e.bin),
		slog.String("audio", opts.AudioPath),
		slog.String("model", opts.ModelPath),
	)

	cmd := exec.CommandContext(runCtx, e.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w (%v exceeded)", ErrTimeout, timeout)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("transcription cancelled: %w", ctx.Err())
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("transcription failed: %s", truncate(msg, 500))
	}

	sidecarPath := SidecarPath(opts.AudioPath)
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoOutput
		}
		return nil, fmt.Errorf("%w: %v", ErrNoOutput, err)
	}

	if err := os.Remove(sidecarPath); err != nil {
		e.logger.Warn("Failed to remove sidecar output",
			slog.String("path", sidecarPath),
			slog.Any("error", err),
		)
	}

	result, err := ParseSidecar(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoOutput, err)
	}

	return result, nil
}

// sidecar covers both output shapes whisper.cpp produces
type sidecar struct {
	Result        []json.RawMessage `json:"result"`
	Transcription string            `json:"transcription"`
	Segments      []json.RawMessage `json:"segments"`
}

// ParseSidecar extracts the transcript and raw segments from the
// engine's JSON output
func ParseSidecar(data []byte) (*Result, error) {
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("invalid sidecar json: %w", err)
	}

	if len(sc.Result) > 0 {
		text, err := joinSegmentTexts(sc.Result)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text, Segments: sc.Result}, nil
	}

	if sc.Transcription != "" || len(sc.Segments) > 0 {
		return &Result{Text: sc.Transcription, Segments: sc.Segments}, nil
	}

	return &Result{}, nil
}

// joinSegmentTexts concatenates trimmed segment texts with single
// spaces; empty segments are skipped rather than inserted as extra
// separators
func joinSegmentTexts(segments []json.RawMessage) (string, error) {
	var parts []string
	for _, raw := range segments {
		var seg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &seg); err != nil {
			return "", fmt.Errorf("invalid segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
