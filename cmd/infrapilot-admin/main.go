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

	"github.com/infrapilot/infrapilot/internal/api/adminapi"
	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/repository"
	"github.com/infrapilot/infrapilot/internal/service"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret must be set (INFRAPILOT_AUTH_JWT_SECRET)")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	customerRepo := repository.NewCustomerRepository(db)
	adminRepo := repository.NewAdminRepository(db)
	jobRepo := repository.NewJobRepository(db)

	authService := service.NewAuthService(customerRepo, adminRepo, cfg.Auth, logger)
	adminService := service.NewAdminService(customerRepo, adminRepo, logger)
	jobService := service.NewJobService(jobRepo, logger)

	router := adminapi.SetupRouter(authService, adminService, jobService, adminapi.RouterConfig{
		AllowOrigins: cfg.Security.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.AdminAddress(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Starting InfraPilot admin service", zap.String("address", cfg.AdminAddress()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down admin service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}

	logger.Info("Admin service stopped")
}
