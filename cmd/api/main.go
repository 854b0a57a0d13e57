package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/boothill-gm/internal/config"
	"github.com/jwebster45206/boothill-gm/internal/handlers"
	"github.com/jwebster45206/boothill-gm/internal/logger"
	"github.com/jwebster45206/boothill-gm/internal/metrics"
	"github.com/jwebster45206/boothill-gm/internal/services"
	"github.com/jwebster45206/boothill-gm/internal/services/events"
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

	log := logger.Setup(cfg, "api")

	log.Info("Starting Boothill GM API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName)

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
	log.Info("Storage connection established successfully")

	m := metrics.New()

	llm, err := services.NewLLMService(cfg, log)
	if err != nil {
		log.Error("Failed to create LLM service", "error", err)
		os.Exit(1)
	}
	if llm != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		if err := llm.InitModel(ctx, cfg.ModelName); err != nil {
			cancel()
			log.Error("Failed to initialize LLM model", "error", err, "model", cfg.ModelName)
			os.Exit(1)
		}
		cancel()
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

	decisionQueue := queue.NewDecisionQueue(queue.NewClientFromRedis(store.Client(), log))
	broadcaster := events.NewBroadcaster(store.Client(), log)

	provider := cfg.LLMProvider
	if llm == nil {
		provider = config.ProviderNone
	}

	router := handlers.NewRouter(handlers.Routes{
		Health:     handlers.NewHealthHandler(store, provider, log),
		Metrics:    m.Handler(),
		Sessions:   handlers.NewSessionHandler(processor, store, decisionQueue, broadcaster, cfg.ContextMaxTokens, log),
		Characters: handlers.NewCharacterHandler(log, store),
		Events:     handlers.NewEventsHandler(broadcaster, log),
	}, log)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: the events stream stays open
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Server exited")
}
