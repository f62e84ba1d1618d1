package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/trnhan/transcribe-be/internal/transcriber"
)

// ListModels returns the downloaded model files. When nothing is
// downloaded yet the supported model names are listed instead.
func (h *ModelHandler) ListModels(c *gin.Context) {
	models := h.cache.List()

	if len(models) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"status":     "success",
			"downloaded": []string{},
			"supported":  transcriber.SupportedModels,
			"message":    "No models downloaded yet. Use POST /api/v1/download-model/{name} to fetch one",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"downloaded": models,
		"count":      len(models),
	})
}

// DownloadModel fetches a whisper model file by name
func (h *ModelHandler) DownloadModel(c *gin.Context) {
	name := strings.TrimSpace(c.Param("model_name"))
	if name == "" || strings.ContainsAny(name, "/\\") {
		errorResponse(c, http.StatusBadRequest, "Invalid model name")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Transcribe.DownloadTimeout)
	defer cancel()

	path, existed, err := h.downloader.Download(ctx, name)
	if err != nil {
		h.logger.Error("Model download failed",
			slog.String("model", name),
			slog.Any("error", err),
		)
		errorResponse(c, http.StatusInternalServerError, fmt.Sprintf("Failed to download model %q", name))
		return
	}

	message := fmt.Sprintf("Model %q downloaded successfully", name)
	if existed {
		message = fmt.Sprintf("Model %q is already downloaded", name)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"model":   name,
		"path":    path,
		"message": message,
	})
}
