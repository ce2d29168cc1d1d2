package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/infrapilot/infrapilot/internal/api"
	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/embedding"
	"github.com/infrapilot/infrapilot/internal/inference"
	"github.com/infrapilot/infrapilot/internal/rag"
	"github.com/infrapilot/infrapilot/internal/service"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// .env is optional, environment wins either way
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	llm, err := inference.NewClient(cfg.Model)
	if err != nil {
		logger.Fatal("Failed to create inference client", zap.Error(err))
	}

	embedder, err := embedding.NewEmbedder(cfg.Embedding)
	if err != nil {
		logger.Fatal("Failed to create embedder", zap.Error(err))
	}

	index, err := rag.NewIndex(cfg.RAG)
	if err != nil {
		logger.Fatal("Failed to open context store", zap.Error(err))
	}
	store := rag.NewStore(index, embedder, cfg.RAG.CollectionName, logger)
	defer store.Close()

	chatService := service.NewChatService(cfg, llm, store, logger)
	fileService := service.NewFileService(cfg, store, logger)

	router := api.SetupRouter(chatService, store, fileService, llm, api.RouterConfig{
		ModelName:    cfg.Model.Name,
		DefaultTopK:  cfg.RAG.DefaultTopK,
		AllowOrigins: cfg.Security.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Model.Timeout + 30*time.Second,
	}

	go func() {
		logger.Info("Starting InfraPilot gateway",
			zap.String("address", cfg.Address()),
			zap.String("model", cfg.Model.Name),
			zap.String("provider", cfg.Model.Provider))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}

	logger.Info("Gateway stopped")
}
