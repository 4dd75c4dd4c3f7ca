package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anomaly-backend/internal/config"
	"anomaly-backend/internal/service"
)

// maxUploadBytes caps dataset uploads at 50 MB.
const maxUploadBytes = 50 << 20

type DatasetHandler interface {
	Upload(c *gin.Context)
	List(c *gin.Context)
	Get(c *gin.Context)
	StartAnalysis(c *gin.Context)
	StartTriage(c *gin.Context)
	ListAnomalies(c *gin.Context)
	ListExplanations(c *gin.Context)
}

type datasetHandler struct {
	pipeline *service.Pipeline
	cfg      *config.Config
	logger   *zap.Logger
}

func NewDatasetHandler(pipeline *service.Pipeline, cfg *config.Config, logger *zap.Logger) DatasetHandler {
	return &datasetHandler{
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
	}
}

// Upload accepts a multipart CSV upload and registers it as a dataset.
func (h *datasetHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected multipart field 'file'"})
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 50MB limit"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		h.logger.Error("Failed to read upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 50MB limit"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is empty"})
		return
	}

	ds, err := h.pipeline.UploadDataset(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dataset": ds})
}

// List returns all datasets, newest first.
func (h *datasetHandler) List(c *gin.Context) {
	datasets, err := h.pipeline.ListDatasets()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": datasets, "count": len(datasets)})
}

// Get returns one dataset, optionally joined with a progress record when the
// client passes ?progress_id=.
func (h *datasetHandler) Get(c *gin.Context) {
	st, err := h.pipeline.GetStatus(c.Param("id"), c.Query("progress_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// StartAnalysis kicks off the autoencoder stage. Replays while a run is in
// flight return 200 with the existing session instead of starting another.
func (h *datasetHandler) StartAnalysis(c *gin.Context) {
	result, err := h.pipeline.StartAutoencoder(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusAccepted
	if result.Reused {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"session_id":  result.Session.ID,
		"progress_id": result.ProgressID,
		"reused":      result.Reused,
	})
}

// StartTriage launches the triage stage in the background and returns the
// progress id to poll. max_anomalies outside [1,500] is clamped, not rejected.
func (h *datasetHandler) StartTriage(c *gin.Context) {
	var input struct {
		MaxAnomalies *int `json:"max_anomalies"`
	}
	if err := c.ShouldBindJSON(&input); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	maxAnomalies := h.cfg.Triage.DefaultMaxAnomalies
	if input.MaxAnomalies != nil {
		maxAnomalies = *input.MaxAnomalies
	}

	progressID, err := h.pipeline.StartTriage(c.Param("id"), maxAnomalies)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"progress_id": progressID})
}

// ListAnomalies returns a dataset's anomalies ranked by score, optionally
// truncated by ?limit=.
func (h *datasetHandler) ListAnomalies(c *gin.Context) {
	anomalies, err := h.pipeline.ListAnomalies(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if limit < len(anomalies) {
			anomalies = anomalies[:limit]
		}
	}

	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies, "count": len(anomalies)})
}

// ListExplanations returns the triage explanations of a completed dataset.
func (h *datasetHandler) ListExplanations(c *gin.Context) {
	explanations, err := h.pipeline.ListExplanations(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"explanations": explanations, "count": len(explanations)})
}
