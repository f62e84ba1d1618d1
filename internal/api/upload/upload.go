// Package upload handles audio intake for the gateway: multipart file
// saves and streaming URL downloads, both under a hard size cap.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyFilename     = errors.New("empty filename")
	ErrEmptyFile         = errors.New("empty file")
	ErrTooLarge          = errors.New("file too large")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrInvalidURL        = errors.New("invalid URL format")
	ErrDownload          = errors.New("failed to download file")
)

const downloadChunkSize = 8192

// Saver validates and persists incoming audio into the upload directory
type Saver struct {
	uploadDir   string
	maxBytes    int64
	allowedExts map[string]struct{}
	client      *http.Client
	logger      *slog.Logger
}

// NewSaver creates an upload saver enforcing the configured size cap
// and extension allow-list
func NewSaver(uploadDir string, maxBytes int64, allowedExts []string, logger *slog.Logger) *Saver {
	exts := make(map[string]struct{}, len(allowedExts))
	for _, ext := range allowedExts {
		exts[strings.ToLower(ext)] = struct{}{}
	}

	return &Saver{
		uploadDir:   uploadDir,
		maxBytes:    maxBytes,
		allowedExts: exts,
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

// MaxBytes returns the configured upload size cap
func (s *Saver) MaxBytes() int64 {
	return s.maxBytes
}

// SaveMultipart validates an uploaded file and writes it into the
// upload directory under a timestamped name. Nothing is written when
// validation fails.
func (s *Saver) SaveMultipart(fh *multipart.FileHeader) (string, error) {
	if fh.Filename == "" {
		return "", ErrEmptyFilename
	}
	if fh.Size == 0 {
		return "", ErrEmptyFile
	}
	if fh.Size > s.maxBytes {
		return "", s.tooLargeErr()
	}

	filename := sanitizeFilename(fh.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := s.allowedExts[ext]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	destPath := filepath.Join(s.uploadDir, timestampPrefix()+filename)
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(destPath)
		return "", fmt.Errorf("failed to save uploaded file: %w", err)
	}

	if err := dest.Close(); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("failed to save uploaded file: %w", err)
	}

	s.logger.Info("Upload saved",
		slog.String("path", destPath),
		slog.Int64("size", fh.Size),
	)

	return destPath, nil
}

// DownloadFromURL streams a remote file into the upload directory. The
// size cap is enforced twice: against the declared content-length
// before any byte is read, and against a running counter while
// streaming. A partial file is removed when the cap is exceeded
// mid-stream.
func (s *Saver) DownloadFromURL(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", ErrInvalidURL
	}

	filename := sanitizeFilename(path.Base(parsed.Path))
	if filename == "" || filename == "." || filename == "/" {
		filename = "downloaded_audio"
	}
	if filepath.Ext(filename) == "" {
		filename += ".mp3"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: status %d", ErrDownload, resp.StatusCode)
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if declared, err := strconv.ParseInt(cl, 10, 64); err == nil && declared > s.maxBytes {
			return "", s.tooLargeErr()
		}
	}

	destPath := filepath.Join(s.uploadDir, timestampPrefix()+filename)
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}

	var downloaded int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			downloaded += int64(n)
			if downloaded > s.maxBytes {
				dest.Close()
				os.Remove(destPath)
				return "", s.tooLargeErr()
			}
			if _, writeErr := dest.Write(buf[:n]); writeErr != nil {
				dest.Close()
				os.Remove(destPath)
				return "", fmt.Errorf("failed to write download file: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			dest.Close()
			os.Remove(destPath)
			return "", fmt.Errorf("%w: %v", ErrDownload, readErr)
		}
	}

	if err := dest.Close(); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("failed to write download file: %w", err)
	}

	s.logger.Info("File downloaded from URL",
		slog.String("path", destPath),
		slog.Int64("size", downloaded),
	)

	return destPath, nil
}

func (s *Saver) tooLargeErr() error {
	return fmt.Errorf("%w: maximum size %dMB", ErrTooLarge, s.maxBytes/(1024*1024))
}

// sanitizeFilename strips path components and replaces characters that
// are unsafe in a file name
func sanitizeFilename(name string) string {
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return strings.Trim(b.String(), "._")
}

func timestampPrefix() string {
	return time.Now().Format("20060102_150405") + "_"
}
