package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/trnhan/transcribe-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "transcribe-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	modelHandler := handler.NewModelHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/transcribe - Synchronous transcription
		v1.POST("/transcribe", jobHandler.Transcribe)

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit an async transcription job
			jobs.POST("", jobHandler.Submit)

			// GET /api/v1/jobs - List jobs with optional status filter
			jobs.GET("", jobHandler.List)

			// GET /api/v1/jobs/:job_id - Get unified job status
			jobs.GET("/:job_id", jobHandler.GetStatus)

			// GET /api/v1/jobs/:job_id/result - Get the transcription result
			jobs.GET("/:job_id/result", jobHandler.GetResult)

			// DELETE /api/v1/jobs/:job_id - Cancel a job
			jobs.DELETE("/:job_id", jobHandler.Cancel)
		}

		// GET /api/v1/models - List downloaded model files
		v1.GET("/models", modelHandler.ListModels)

		// POST /api/v1/download-model/:model_name - Fetch a model file
		v1.POST("/download-model/:model_name", modelHandler.DownloadModel)

		// GET /api/v1/info - Service configuration
		v1.GET("/info", jobHandler.Info)
	}

	return r
}
