package api

import (
	"net/http"

	queueDelivery "supportdesk-backend/internal/queue/delivery"
	"supportdesk-backend/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(r *gin.Engine, queueHandler *queueDelivery.QueueHandler, cfg *config.Config) {
	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	// Trigger gateway (shared secret)
	queueHandler.RegisterRoutes(r, cfg.QueueSecret)
}
