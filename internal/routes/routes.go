package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	handler "fraud-detection-pipeline/internal/handlers"
)

// RegisterRoutes mounts the ops API under /api and the metrics endpoint, when given, at /metrics.
func RegisterRoutes(r *gin.Engine, h *handler.OpsHandler, metrics http.Handler) {
	api := r.Group("/api")

	api.GET("/health", h.Health)
	api.GET("/predictions", h.ListPredictions)
	api.GET("/reports/daily", h.DailyReport)
	api.GET("/runs/latest", h.LatestRuns)

	loads := api.Group("/loads")
	{
		loads.POST("/upload", h.UploadCSV)
		loads.GET("/:batchId", h.GetLoadProgress)
	}

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
}
