package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anomaly-backend/internal/autoencoder"
	"anomaly-backend/internal/models"
	"anomaly-backend/internal/reasoning"
	"anomaly-backend/internal/service"
)

type SystemHandler interface {
	Health(c *gin.Context)
	ModelInfo(c *gin.Context)
	GetProgress(c *gin.Context)
	UpdateAnomalyStatus(c *gin.Context)
}

type systemHandler struct {
	pipeline *service.Pipeline
	scorer   *autoencoder.Scorer // nil when no bundle is loaded
	reasoner reasoning.Client
	logger   *zap.Logger
}

func NewSystemHandler(pipeline *service.Pipeline, scorer *autoencoder.Scorer, reasoner reasoning.Client, logger *zap.Logger) SystemHandler {
	return &systemHandler{
		pipeline: pipeline,
		scorer:   scorer,
		reasoner: reasoner,
		logger:   logger,
	}
}

func (h *systemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"model_loaded": h.scorer != nil,
	})
}

// ModelInfo describes the frozen scoring bundle and the reasoning provider.
func (h *systemHandler) ModelInfo(c *gin.Context) {
	if h.scorer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no model bundle loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"autoencoder": h.scorer.Info(),
		"reasoning":   h.reasoner.ModelInfo(),
	})
}

// GetProgress returns an in-flight or recently finished run's progress.
func (h *systemHandler) GetProgress(c *gin.Context) {
	rec, ok := h.pipeline.GetProgress(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "progress record not found or expired"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// UpdateAnomalyStatus moves an anomaly through the triage review workflow.
func (h *systemHandler) UpdateAnomalyStatus(c *gin.Context) {
	var input struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := models.AnomalyStatus(input.Status)
	if !models.ValidAnomalyStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown anomaly status"})
		return
	}

	if err := h.pipeline.UpdateAnomalyStatus(c.Param("id"), status); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
