package transcriber

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultModelBaseURL is where whisper.cpp model files are published
const DefaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// SupportedModels is the fallback list shown when nothing is downloaded
var SupportedModels = []string{
	"tiny.en", "base.en", "small.en", "medium.en",
	"tiny", "base", "small", "medium", "large",
}

// modelFileName maps a model name to its on-disk file name
func modelFileName(model string) string {
	if strings.HasSuffix(model, ".bin") {
		return model
	}
	return "ggml-" + model + ".bin"
}

// ResolveModelPath locates a model file in the given directories.
// Both the ggml-prefixed and the plain file name are tried.
func ResolveModelPath(model string, dirs ...string) (string, error) {
	candidates := []string{modelFileName(model)}
	if !strings.HasSuffix(model, ".bin") {
		candidates = append(candidates, model+".bin")
	}

	for _, dir := range dirs {
		for _, name := range candidates {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("model file not found: %s", model)
}

// ModelCache caches the directory scan for downloaded model files.
// Invalidate must be called after any model download side effect.
type ModelCache struct {
	mu     sync.Mutex
	dirs   []string
	models []string
	loaded bool
}

// NewModelCache creates a cache over the given model directories
func NewModelCache(dirs ...string) *ModelCache {
	return &ModelCache{dirs: dirs}
}

// List returns the sorted, de-duplicated set of downloaded model files
func (c *ModelCache) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.models
	}

	seen := make(map[string]struct{})
	for _, dir := range c.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".bin") {
				seen[entry.Name()] = struct{}{}
			}
		}
	}

	models := make([]string, 0, len(seen))
	for name := range seen {
		models = append(models, name)
	}
	sort.Strings(models)

	c.models = models
	c.loaded = true
	return c.models
}

// Invalidate drops the cached scan so the next List re-reads the disk
func (c *ModelCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.models = nil
}

// Downloader fetches model files over HTTP into the models directory
type Downloader struct {
	client  *http.Client
	baseURL string
	destDir string
	cache   *ModelCache
	logger  *slog.Logger
}

// NewDownloader creates a model downloader. The cache is invalidated
// synchronously after every successful download.
func NewDownloader(client *http.Client, baseURL, destDir string, cache *ModelCache, logger *slog.Logger) *Downloader {
	if baseURL == "" {
		baseURL = DefaultModelBaseURL
	}
	return &Downloader{
		client:  client,
		baseURL: baseURL,
		destDir: destDir,
		cache:   cache,
		logger:  logger,
	}
}

// Download streams a model file to disk. It reports whether the model
// was already present, in which case nothing is fetched.
func (d *Downloader) Download(ctx context.Context, name string) (path string, existed bool, err error) {
	target := modelFileName(name)
	path = filepath.Join(d.destDir, target)

	if _, err := os.Stat(path); err == nil {
		d.logger.Info("Model already exists",
			slog.String("model", name),
			slog.String("path", path),
		)
		return path, true, nil
	}

	url := fmt.Sprintf("%s/%s", d.baseURL, target)

	d.logger.Info("Downloading model",
		slog.String("model", name),
		slog.String("url", url),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("download failed: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to create model file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", false, fmt.Errorf("download failed: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", false, fmt.Errorf("failed to write model file: %w", err)
	}

	d.cache.Invalidate()

	d.logger.Info("Model downloaded",
		slog.String("model", name),
		slog.String("path", path),
	)

	return path, false, nil
}
