package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nagy-andras-sk/edudisplej-sub004/internal/core"
	"github.com/nagy-andras-sk/edudisplej-sub004/internal/infrastructure"
	transport "github.com/nagy-andras-sk/edudisplej-sub004/internal/transport/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the device sync API server",
	Long:  `Launches the HTTP server handling device synchronization, telemetry ingestion, and schedule resolution.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	logger.Info("Initializing EduDisplej sync service...")

	// --- Infrastructure Setup ---
	logger.Info("Connecting to database...")
	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	var deviceCache core.DeviceCache
	if cfg.Redis.Addr != "" {
		logger.Info("Connecting to cache...")
		cache, err := infrastructure.NewCache(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Cache unavailable, continuing without it")
		} else {
			defer cache.Close()
			deviceCache = cache
		}
	}

	var events core.EventPublisher
	if cfg.ServiceBus.ConnectionString != "" {
		logger.Info("Connecting to messaging service...")
		messaging, err := infrastructure.NewMessaging(cfg.ServiceBus)
		if err != nil {
			logger.WithError(err).Warn("Messaging service unavailable, continuing without it")
		} else {
			defer messaging.Close()
			events = messaging
		}
	}

	screenshots, err := infrastructure.NewScreenshotStorage(cfg.Screenshots.StoragePath)
	if err != nil {
		return fmt.Errorf("screenshot storage setup failed: %w", err)
	}

	// --- Service Layer Setup ---
	repo := core.NewRepository(db.DB)

	syncOpts := core.SyncOptions{
		OfflineTimeout:   cfg.Sync.OfflineTimeout,
		UpgradeTimeout:   cfg.Sync.UpgradeTimeout,
		ScreenshotKeep:   cfg.Screenshots.KeepPerKiosk,
		LogRetentionDays: cfg.Sync.LogRetentionDays,
	}

	syncService := core.NewSyncService(repo, deviceCache, events, screenshots, logger, syncOpts)
	scheduleService := core.NewScheduleService(repo, logger)
	healthService := core.NewHealthService(repo, logger, syncOpts)
	installService := core.NewInstallService(repo, logger)

	// --- API Layer Setup ---
	router := gin.New()
	router.Use(gin.Recovery())

	handlers := transport.NewHandlers(syncService, scheduleService, healthService, installService, logger)
	transport.SetupRoutes(router, handlers, repo, logger)

	// --- HTTP Server ---
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful Shutdown ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Infof("EduDisplej sync API listening on %s", serverAddr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-shutdownChan

	logger.Warn("Shutdown signal received, initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	} else {
		logger.Info("Server stopped gracefully")
	}

	return nil
}
