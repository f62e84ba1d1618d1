package transcriber

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveModelPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-base.en.bin"), []byte("model"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.bin"), []byte("model"), 0o644))

	path, err := ResolveModelPath("base.en", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ggml-base.en.bin"), path)

	path, err = ResolveModelPath("custom.bin", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "custom.bin"), path)

	_, err = ResolveModelPath("large-v3", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
}

func TestModelCache_ListAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-base.en.bin"), []byte("m"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	cache := NewModelCache(dir)

	models := cache.List()
	assert.Equal(t, []string{"ggml-base.en.bin"}, models)

	// New files are invisible until the cache is invalidated
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-tiny.bin"), []byte("m"), 0o644))
	assert.Equal(t, []string{"ggml-base.en.bin"}, cache.List())

	cache.Invalidate()
	assert.Equal(t, []string{"ggml-base.en.bin", "ggml-tiny.bin"}, cache.List())
}

func TestModelCache_MissingDirIsEmpty(t *testing.T) {
	cache := NewModelCache(filepath.Join(t.TempDir(), "nope"))
	assert.Empty(t, cache.List())
}

func TestDownloader_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ggml-tiny.bin" {
			w.Write([]byte("model-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache := NewModelCache(dir)
	cache.List() // prime the cache so invalidation is observable

	d := NewDownloader(srv.Client(), srv.URL, dir, cache, slog.Default())

	path, existed, err := d.Download(context.Background(), "tiny")
	require.NoError(t, err)
	assert.False(t, existed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(data))

	// Cache refreshed synchronously after the download
	assert.Contains(t, cache.List(), "ggml-tiny.bin")

	// Second download is a no-op
	_, existed, err = d.Download(context.Background(), "tiny")
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestDownloader_Download_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(srv.Client(), srv.URL, dir, NewModelCache(dir), slog.Default())

	_, _, err := d.Download(context.Background(), "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")

	// No partial file left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
