package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jorektheglitch/simplefiles/internal/config"
	"github.com/jorektheglitch/simplefiles/internal/logger"
	"github.com/jorektheglitch/simplefiles/internal/services"
	"github.com/jorektheglitch/simplefiles/internal/storage"
	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a TOML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v\n", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level); err != nil {
		log.Fatalf("Failed to initialize logger: %v\n", err)
	}
	defer logger.Sync()

	logger.Logger.Info("Starting simplefiles scheduler")

	storeURI, err := storage.ParseURI(cfg.Storage.URI)
	if err != nil {
		logger.Logger.Fatal("Invalid STORAGE_URI", zap.Error(err))
	}
	staging, err := storage.NewStagingArea(cfg.StagingDir(storeURI), cfg.Storage.DigestAlgorithm)
	if err != nil {
		logger.Logger.Fatal("Failed to initialize staging area", zap.Error(err))
	}
	logger.Logger.Info("Staging area ready", zap.String("dir", staging.Dir()))

	scheduler := NewScheduler(logger.Logger)
	sweeper := services.NewStagingSweeper(staging, cfg.Staging.MaxAge, logger.Logger)
	if err := scheduler.Add("staging-sweep", cfg.Staging.SweepInterval, sweeper); err != nil {
		logger.Logger.Fatal("Failed to schedule staging sweep", zap.Error(err))
	}

	// Start scheduler
	scheduler.Start()
	defer func() {
		logger.Logger.Info("Shutting down scheduler...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		scheduler.Stop(ctx)
		logger.Logger.Info("Scheduler exited")
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
