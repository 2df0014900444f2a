package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nodeflow/internal/api/dto"
	"nodeflow/internal/domain"
	"nodeflow/internal/service"
)

type RunHandler struct {
	service service.RunService
}

func NewRunHandler(svc service.RunService) *RunHandler {
	return &RunHandler{service: svc}
}

// Register mounts the run routes on the given router group.
func (h *RunHandler) Register(api *gin.RouterGroup) {
	api.POST("/runs", h.SubmitRun)
	api.GET("/runs", h.ListRuns)
	api.GET("/runs/:id", h.GetRun)
	api.POST("/runs/:id/cancel", h.CancelRun)
}

func (h *RunHandler) SubmitRun(c *gin.Context) {
	var req dto.SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID, err := h.service.SubmitRun(c.Request.Context(), req)
	if err != nil {
		// Definition-level problems are the caller's fault.
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, dto.SubmitRunResponse{ID: runID})
}

func (h *RunHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	snap, err := h.service.GetRun(c.Request.Context(), runID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *RunHandler) ListRuns(c *gin.Context) {
	snaps := h.service.ListRuns(c.Request.Context())
	summaries := make([]dto.RunSummary, 0, len(snaps))
	for _, s := range snaps {
		summaries = append(summaries, dto.Summarize(s))
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *RunHandler) CancelRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	if err := h.service.CancelRun(c.Request.Context(), runID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}
