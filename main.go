package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"anomaly-backend/internal/analysis"
	"anomaly-backend/internal/autoencoder"
	"anomaly-backend/internal/config"
	"anomaly-backend/internal/handler"
	"anomaly-backend/internal/objectstore"
	"anomaly-backend/internal/progress"
	"anomaly-backend/internal/reasoning"
	"anomaly-backend/internal/repository"
	"anomaly-backend/internal/server"
	"anomaly-backend/internal/service"
	"anomaly-backend/internal/triage"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err) // Should not happen in development
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// Load configuration
	cfgPath := "configs/config.yml"
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		cfgPath = env
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Database connection
	db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := repository.MigrateDB(db, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize repositories
	datasetRepo := repository.NewDatasetRepository(db)
	anomalyRepo := repository.NewAnomalyRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	explanationRepo := repository.NewExplanationRepository(db)

	// Object store for raw uploads
	store, err := objectstore.NewLocalStore(cfg.Storage.Dir)
	if err != nil {
		logger.Fatal("Failed to initialize object store", zap.Error(err))
	}

	// Load the frozen model bundle. A missing bundle is not fatal: uploads
	// and reads still work, analysis fails fast with ModelUnavailable.
	var scorer *autoencoder.Scorer
	bundle, err := autoencoder.LoadBundle(cfg.Model.BundlePath)
	if err != nil {
		logger.Warn("No usable model bundle, analysis is disabled until one is provided",
			zap.String("path", cfg.Model.BundlePath),
			zap.Error(err))
	} else {
		scorer = autoencoder.NewScorer(bundle, logger)
		logger.Info("Model bundle loaded",
			zap.String("model", bundle.ModelName),
			zap.Float64("threshold", bundle.Threshold))
	}

	// Reasoning provider for the triage stage
	reasoner, err := reasoning.NewClient(reasoning.Config{
		Provider:          cfg.Reasoning.Provider,
		APIKey:            cfg.Reasoning.APIKey,
		ModelName:         cfg.Reasoning.ModelName,
		BaseURL:           cfg.Reasoning.BaseURL,
		MaxRetries:        cfg.Reasoning.MaxRetries,
		RetryDelay:        time.Duration(cfg.Reasoning.RetryDelaySeconds) * time.Second,
		RequestsPerMinute: cfg.Reasoning.RequestsPerMinute,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize reasoning client", zap.Error(err))
	}
	defer reasoner.Close()

	// Progress records outlive their runs for an hour
	reporter := progress.NewReporter(time.Hour)

	sessions := analysis.NewSessionManager(sessionRepo, cfg.SessionStaleAfter(), logger)
	runner := analysis.NewRunner(datasetRepo, anomalyRepo, sessions, store, scorer, reporter, logger)

	var threshold float64
	if scorer != nil {
		threshold = scorer.Threshold()
	}
	orchestrator := triage.NewOrchestrator(datasetRepo, anomalyRepo, explanationRepo, reasoner, reporter, cfg.TriageCallTimeout(), cfg.SessionStaleAfter(), threshold, logger)

	pipeline := service.NewPipeline(datasetRepo, anomalyRepo, explanationRepo, store, runner, orchestrator, reporter, logger)

	datasetHandler := handler.NewDatasetHandler(pipeline, cfg, logger)
	systemHandler := handler.NewSystemHandler(pipeline, scorer, reasoner, logger)

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := server.NewServer(datasetHandler, systemHandler, logger)
	go func() {
		if err := srv.Run(cfg.Server.Port); err != nil {
			logger.Error("Server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
	}
	logger.Info("Application stopped.")
}
