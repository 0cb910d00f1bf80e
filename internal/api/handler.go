// Package api exposes the engine over HTTP: one endpoint to submit a
// request, one read-only analytics endpoint over the iteration audit log.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyboard-engine/internal/engine"
	"storyboard-engine/internal/models"
	"storyboard-engine/internal/storage"
)

// Handler serves the engine API.
type Handler struct {
	service    *engine.Service
	iterations storage.IterationRepository
	logger     *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(service *engine.Service, iterations storage.IterationRepository, logger *zap.Logger) *Handler {
	return &Handler{
		service:    service,
		iterations: iterations,
		logger:     logger.Named("APIHandler"),
	}
}

// RegisterRoutes mounts the API routes on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")
	{
		v1.POST("/projects/:projectId/requests", h.handleRequest)
		v1.GET("/projects/:projectId/iterations", h.listIterations)
	}
}

type requestBody struct {
	RequestText string   `json:"requestText"`
	ImageRefs   []string `json:"imageRefs"`
}

func (h *Handler) handleRequest(c *gin.Context) {
	projectID := c.Param("projectId")

	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if body.RequestText == "" && len(body.ImageRefs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requestText or imageRefs required"})
		return
	}

	result, err := h.service.HandleRequest(c.Request.Context(), projectID, body.RequestText, body.ImageRefs)
	if err != nil {
		if errors.Is(err, models.ErrStaleReference) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Request handling failed",
			zap.String("projectId", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) listIterations(c *gin.Context) {
	projectID := c.Param("projectId")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1-500"})
			return
		}
		limit = parsed
	}

	iterations, err := h.iterations.ListRecent(c.Request.Context(), projectID, limit)
	if err != nil {
		h.logger.Error("Failed to list iterations",
			zap.String("projectId", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"iterations": iterations})
}
