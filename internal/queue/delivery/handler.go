package delivery

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/internal/queue/usecase"
)

// QueueHandler exposes the trigger gateway
type QueueHandler struct {
	queueUsecase usecase.QueueUsecase
}

func NewQueueHandler(queueUsecase usecase.QueueUsecase) *QueueHandler {
	return &QueueHandler{queueUsecase: queueUsecase}
}

// EnqueueRequest is the body of a manual enqueue
type EnqueueRequest struct {
	Type        string          `json:"type" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts"`
	NotBefore   *time.Time      `json:"not_before"`
}

// Process runs one dispatcher batch
// POST /queue/process
func (h *QueueHandler) Process(c *gin.Context) {
	res, err := h.queueUsecase.Process(c.Request.Context())
	if err != nil {
		log.Printf("[QueueGateway] Process failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processed": res.Processed,
		"failed":    res.Failed,
		"errors":    res.Errors,
	})
}

// Stats reports job counts over the stats window
// GET /queue/process
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.queueUsecase.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

// Enqueue stores a manually submitted job
// POST /queue/jobs
func (h *QueueHandler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	id, err := h.queueUsecase.Enqueue(c.Request.Context(), domain.JobType(req.Type), req.Payload, domain.EnqueueOptions{
		MaxAttempts: req.MaxAttempts,
		NotBefore:   req.NotBefore,
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": verr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "id": id})
}

// RegisterRoutes mounts the gateway under /queue
func (h *QueueHandler) RegisterRoutes(r gin.IRouter, secret string) {
	queue := r.Group("/queue")
	queue.Use(SecretMiddleware(secret))
	{
		queue.POST("/process", h.Process)
		queue.GET("/process", h.Stats)
		queue.POST("/jobs", h.Enqueue)
	}
}
