package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/digitalrelab/star-export/internal/api"
	"github.com/digitalrelab/star-export/internal/api/handler"
	"github.com/digitalrelab/star-export/internal/auth"
	"github.com/digitalrelab/star-export/internal/config"
	"github.com/digitalrelab/star-export/internal/media"
	"github.com/digitalrelab/star-export/internal/platform"
	"github.com/digitalrelab/star-export/internal/repository"
	"github.com/digitalrelab/star-export/internal/service"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("star-export %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Local development secrets live in .env; missing file is fine.
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting star-export",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Ensure the export output directory exists
	if err := os.MkdirAll(cfg.Export.Dir, 0755); err != nil {
		logger.Error("failed to create export directory", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies
	users := repository.NewUserRepository()
	jobs := repository.NewJobRegistry()
	clients := platform.NewFactory(platform.Config{})
	downloader := media.NewDownloader(cfg.Download.Timeout, cfg.Download.UserAgent, logger)

	// Initialize services
	exportSvc := service.NewExportService(
		jobs,
		users,
		clients,
		downloader,
		cfg.Export,
		cfg.Download,
		logger,
	)
	sessions := auth.NewSessions(cfg.Server.SessionSecret, cfg.Server.SessionTTL)
	oauthSvc := auth.NewOAuthService(cfg.OAuth, users, logger)

	// Initialize handlers
	exportHandler := handler.NewExportHandler(exportSvc, users, logger)
	authHandler := handler.NewAuthHandler(oauthSvc, sessions, users, cfg.Server.FrontendURL, logger)
	healthHandler := handler.NewHealthHandler(jobs)

	// Setup router
	router := api.NewRouter(exportHandler, authHandler, healthHandler, sessions, cfg.Server)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Let in-flight export jobs finish writing their artifacts
	exportSvc.Wait()

	logger.Info("shutdown complete")
}
