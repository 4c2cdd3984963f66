package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"murmur/internal/ai"
	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/observability"
	"murmur/internal/pipeline"
	"murmur/internal/server/app"
	serverHTTP "murmur/internal/server/http"
	"murmur/internal/storage/blobstore"
	"murmur/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	logger := logging.FromObservability(obsLogger, "main")

	logger.Info("Starting murmur server...")
	logger.Info("Environment: %s", cfg.Environment)
	logger.Info("Blob dir: %s", cfg.BlobDir)
	logger.Info("Storage public URL: %s", cfg.StoragePublicURL)
	logger.Info("ASR: %s (%s)", cfg.ASRBaseURL, cfg.ASRModel)
	logger.Info("LLM: %s (%s)", cfg.LLMBaseURL, cfg.LLMModel)

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled:        cfg.MetricsEnabled,
		PrometheusPort: cfg.MetricsPort,
	})
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	signer, err := blobstore.NewURLSigner(cfg.StoragePublicURL, cfg.SigningSecret)
	if err != nil {
		log.Fatalf("Failed to create URL signer: %v", err)
	}
	store, err := blobstore.NewFilesystemStore(cfg.BlobDir, signer)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}

	issuer := upload.NewIssuer(store, cfg.GrantTTL, cfg.AllowedContentTypes,
		logging.FromObservability(obsLogger, "upload"))

	transcriber := ai.NewASRClient(ai.Config{
		BaseURL: cfg.ASRBaseURL,
		APIKey:  cfg.ASRAPIKey,
		Model:   cfg.ASRModel,
		Timeout: cfg.AITimeout,
	}, store, logging.FromObservability(obsLogger, "asr"))

	analyzer := ai.NewChatClient(ai.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.AITimeout,
	}, logging.FromObservability(obsLogger, "llm"))

	registryLogger := logging.FromObservability(obsLogger, "registry")
	registry := pipeline.NewInMemoryRegistry(cfg.MaxTrackedTasks, cfg.TaskRetention, registryLogger,
		pipeline.WithFinishHook(func(task pipeline.Task) {
			registryLogger.Info("Task %s finished: status=%s progress=%d", task.ID, task.Status, task.Progress)
		}))

	coordinator := pipeline.NewCoordinator(registry, transcriber, analyzer, pipeline.CoordinatorConfig{
		TranscribeTimeout: cfg.TranscribeTimeout,
		AnalyzeTimeout:    cfg.AnalyzeTimeout,
		FinalizeTimeout:   cfg.FinalizeTimeout,
		ProgressTick:      cfg.ProgressTick,
		Policy:            pipeline.PolicyFromBranches(cfg.CriticalBranches),
		LearningNote:      cfg.LearningNote,
	}, logging.FromObservability(obsLogger, "pipeline"), metrics)

	service := app.NewMediaService(registry, coordinator, issuer,
		logging.FromObservability(obsLogger, "service"), metrics)

	router := serverHTTP.NewRouter(service, store,
		logging.FromObservability(obsLogger, "http"), serverHTTP.RouterConfig{
			Environment: cfg.Environment,
		})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := metrics.Shutdown(ctx); err != nil {
		logger.Warn("Metrics shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
