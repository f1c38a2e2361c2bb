package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	_ "github.com/jorektheglitch/simplefiles/docs"
	"github.com/jorektheglitch/simplefiles/internal/config"
	"github.com/jorektheglitch/simplefiles/internal/db"
	"github.com/jorektheglitch/simplefiles/internal/handlers"
	"github.com/jorektheglitch/simplefiles/internal/logger"
	"github.com/jorektheglitch/simplefiles/internal/middlewares"
	"github.com/jorektheglitch/simplefiles/internal/repositories"
	"github.com/jorektheglitch/simplefiles/internal/services"
	"github.com/jorektheglitch/simplefiles/internal/storage"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// @title simplefiles API
// @version 1.0
// @description Content-addressed file storage with a typed media catalog

// @license.name MIT

// @host localhost:8080
// @BasePath /api/v1
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

	logger.Logger.Info("Starting simplefiles API",
		zap.String("db_driver", string(cfg.Database.Driver)),
		zap.String("storage", cfg.Storage.URI),
		zap.String("digest", string(cfg.Storage.DigestAlgorithm)),
	)

	ctx := context.Background()

	// Connect to database
	conn, err := db.Connect(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		logger.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	// Run migrations
	if err := db.Migrate(conn, cfg.Database.Driver, logger.Logger); err != nil {
		logger.Logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize storage
	storeURI, err := storage.ParseURI(cfg.Storage.URI)
	if err != nil {
		logger.Logger.Fatal("Invalid STORAGE_URI", zap.Error(err))
	}
	store, err := storage.NewContentStore(ctx, storeURI, cfg.Storage.AccessKey, cfg.Storage.SecretKey)
	if err != nil {
		logger.Logger.Fatal("Failed to initialize content store", zap.Error(err))
	}
	staging, err := storage.NewStagingArea(cfg.StagingDir(storeURI), cfg.Storage.DigestAlgorithm)
	if err != nil {
		logger.Logger.Fatal("Failed to initialize staging area", zap.Error(err))
	}
	logger.Logger.Info("Staging area ready",
		zap.String("dir", staging.Dir()),
		zap.String("digest", string(staging.Algorithm())),
	)

	// Leftovers of a previous crash
	services.NewStagingSweeper(staging, cfg.Staging.MaxAge, logger.Logger).Run()

	// Initialize repositories
	fileInfoRepo := repositories.NewFileInfoRepository(conn, cfg.Database.Driver, logger.Logger)
	mediaRepo := repositories.NewMediaRepository(conn, cfg.Database.Driver, logger.Logger)

	// Initialize services
	ingestService := services.NewIngestService(staging, store, fileInfoRepo, mediaRepo, cfg.Transfer.UploadChunkSize, logger.Logger)
	mediaService := services.NewMediaService(mediaRepo, fileInfoRepo, store, logger.Logger)

	// Initialize handlers
	mediaHandler := handlers.NewMediaHandler(ingestService, mediaService, cfg.Transfer.DownloadChunkSize, logger.Logger)
	healthHandler := handlers.NewHealthHandler(conn, logger.Logger)

	// Setup router
	r := chi.NewRouter()

	// Apply middleware
	r.Use(middlewares.RequestIDMiddleware)
	r.Use(middlewares.LoggerMiddleware(logger.Logger))
	r.Use(middlewares.RecoveryMiddleware(logger.Logger))
	r.Use(middlewares.CORSMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(httprate.LimitByIP(cfg.Server.RateLimitPerMinute, time.Minute))
	r.Use(middlewares.RequestSizeLimitMiddleware(cfg.Transfer.MaxUploadSize))

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", cfg.Server.Port)),
	))

	healthHandler.RegisterRoutes(r)
	mediaHandler.RegisterRoutes(r)

	// Start server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Logger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Logger.Info("Server exited")
}
