package api

import (
	queueDelivery "supportdesk-backend/internal/queue/delivery"
	"supportdesk-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	queueHandler *queueDelivery.QueueHandler
	config       *config.Config
}

func NewHandler(app *App) *Handler {
	return &Handler{
		queueHandler: queueDelivery.NewQueueHandler(app.Queue),
		config:       app.Config,
	}
}

// Engine builds the gin router with middleware and routes
func (h *Handler) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), queueDelivery.Metrics())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h.queueHandler, h.config)
	return r
}

func (h *Handler) Start(addr string) error {
	return h.Engine().Run(addr)
}
