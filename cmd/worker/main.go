package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/boothill-gm/internal/config"
	"github.com/jwebster45206/boothill-gm/internal/logger"
	"github.com/jwebster45206/boothill-gm/internal/metrics"
	"github.com/jwebster45206/boothill-gm/internal/services"
	"github.com/jwebster45206/boothill-gm/internal/services/queue"
	"github.com/jwebster45206/boothill-gm/internal/storage"
	"github.com/jwebster45206/boothill-gm/internal/worker"
	"github.com/jwebster45206/boothill-gm/pkg/engine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg, "worker")

	log.Info("Starting Boothill GM Worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL,
		"llm_provider", cfg.LLMProvider)

	// Initialize storage service
	store, err := storage.NewRedisStorage(cfg.RedisURL, "./data", cfg.SessionTTL, log)
	if err != nil {
		log.Error("Failed to create storage", "error", err)
		os.Exit(1)
	}
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()

	if err := store.Ping(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing storage connection", "error", err)
		}
	}()
	log.Info("Storage service initialized successfully")

	// Queue and locks use their own connection
	queueCtx, queueCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer queueCancel()
	queueClient, err := queue.NewClient(queueCtx, cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()
	decisionQueue := queue.NewDecisionQueue(queueClient)
	log.Info("Queue service initialized successfully")

	m := metrics.New()

	llm, err := services.NewLLMService(cfg, log)
	if err != nil {
		log.Error("Failed to create LLM service", "error", err)
		os.Exit(1)
	}
	if llm != nil {
		initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Minute)
		err := llm.InitModel(initCtx, cfg.ModelName)
		initCancel()
		if err != nil {
			log.Error("Failed to initialize LLM model", "error", err, "model", cfg.ModelName)
			os.Exit(1)
		}
		log.Info("LLM service initialized successfully", "model", cfg.ModelName)
	} else {
		log.Warn("No LLM provider configured, decisions will use fallback templates")
	}

	estimator, err := cfg.Estimator()
	if err != nil {
		log.Error("Failed to create token estimator", "error", err, "estimator", cfg.TokenEstimator)
		os.Exit(1)
	}

	processor := worker.NewDecisionProcessor(store, services.NewAIClient(llm, cfg, m, log), cfg.APIConfig(), log,
		worker.WithRecorder(m),
		worker.WithEstimator(estimator),
		worker.WithServiceOptions(
			engine.WithHistoryCap(cfg.DecisionHistoryCap),
			engine.WithDetection(cfg.Detection()),
		),
	)

	w := worker.New(decisionQueue, processor, queueClient.GetRedisClient(), log, cfg.WorkerID)

	// Metrics for this process
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for requests...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")

	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server forced to shutdown", "error", err)
	}

	// Give worker time to finish current request
	time.Sleep(2 * time.Second)

	log.Info("Worker exited")
}
