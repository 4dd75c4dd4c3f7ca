package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anomaly-backend/internal/handler"
)

type Server struct {
	router *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

func NewServer(datasets handler.DatasetHandler, system handler.SystemHandler, logger *zap.Logger) *Server {
	router := gin.Default()

	s := &Server{
		router: router,
		logger: logger,
	}
	s.setupRoutes(datasets, system)

	return s
}

func (s *Server) setupRoutes(datasets handler.DatasetHandler, system handler.SystemHandler) {
	s.router.GET("/health", system.Health)

	api := s.router.Group("/api/v1")
	{
		api.POST("/datasets", datasets.Upload)
		api.GET("/datasets", datasets.List)
		api.GET("/datasets/:id", datasets.Get)
		api.POST("/datasets/:id/analyze", datasets.StartAnalysis)
		api.POST("/datasets/:id/triage", datasets.StartTriage)
		api.GET("/datasets/:id/anomalies", datasets.ListAnomalies)
		api.GET("/datasets/:id/explanations", datasets.ListExplanations)

		api.PATCH("/anomalies/:id/status", system.UpdateAnomalyStatus)
		api.GET("/progress/:id", system.GetProgress)
		api.GET("/model/info", system.ModelInfo)
	}
}

func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.logger.Info("Server starting", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests before stopping.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
