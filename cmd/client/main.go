package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/melibackend/offline-inventory/internal/client"
	"github.com/melibackend/offline-inventory/internal/config"
	"github.com/melibackend/offline-inventory/internal/connectivity"
	"github.com/melibackend/offline-inventory/internal/handlers"
	"github.com/melibackend/offline-inventory/internal/inventory"
	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/queue"
	"github.com/melibackend/offline-inventory/internal/storage"
	syncengine "github.com/melibackend/offline-inventory/internal/sync"
	"github.com/melibackend/offline-inventory/internal/telemetry"
	"github.com/melibackend/offline-inventory/internal/transition"
)

const (
	serviceName = "offline-inventory-client"
	version     = "1.0.0"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg := config.LoadConfig()
	logger := slog.Default()

	logger.Info("Starting offline inventory client", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelTelemetry := telemetry.InitMetrics(ctx, serviceName, cfg.MetricsExporter, cfg.MetricsAddr, logger)

	store, err := storage.Open(ctx, storage.OpenOptions{
		Driver:         cfg.StorageDriver,
		DataDir:        cfg.DataDir,
		SQLitePath:     cfg.SQLitePath,
		RedisAddr:      cfg.RedisAddr,
		RedisNamespace: cfg.ActorID,
	}, logger)
	if err != nil {
		logger.Error("Failed to open local store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := seedStore(ctx, store, cfg.SeedFile); err != nil {
		logger.Error("Failed to seed local store", "error", err)
		os.Exit(1)
	}

	mutationQueue := queue.NewMutationQueue(store, logger)
	monitor := connectivity.NewMonitor(cfg.InitialOnline, logger)
	defer monitor.Close()

	remote := client.NewInventoryClient(cfg.RemoteAPIURL, cfg.RemoteAPIKey, client.Options{
		Timeout: cfg.RemoteTimeout,
		Logger:  logger,
	})

	syncTelemetry, err := telemetry.NewSyncTelemetry(otelTelemetry.Meter(), mutationQueue.Count)
	if err != nil {
		logger.Warn("Failed to initialize sync telemetry, continuing without it", "error", err)
	}

	coordinator := syncengine.NewCoordinator(store, mutationQueue, remote, monitor, syncTelemetry, syncengine.Config{
		SyncInterval:    cfg.SyncInterval,
		RetryBackoffMin: cfg.RetryBackoffMin,
		RetryBackoffMax: cfg.RetryBackoffMax,
		RequestTimeout:  cfg.RemoteTimeout,
	}, logger)
	facade := syncengine.NewStatusFacade(monitor, coordinator, mutationQueue)
	service := inventory.NewService(store, mutationQueue, transition.NewEngine(), cfg.ActorID, logger)

	prober := connectivity.NewProber(monitor, remote, cfg.ConnectivityProbeInterval, cfg.RemoteTimeout, logger)

	apiTelemetry, err := telemetry.NewApiTelemetry(otelTelemetry.Meter(), serviceName)
	if err != nil {
		logger.Error("Failed to initialize API telemetry", "error", err)
		os.Exit(1)
	}
	telemetryMiddleware := telemetry.NewTelemetryMiddleware(apiTelemetry, handlers.RoutePattern)

	router := handlers.NewRouter(handlers.Handlers{
		Inventory: handlers.NewInventoryHandler(service),
		Sync:      handlers.NewSyncHandler(facade, monitor),
		Health:    handlers.NewHealthHandler(serviceName, version),
	}, cfg.APIKeys, telemetryMiddleware.Middleware, chimiddleware.Logger)

	if err := coordinator.Start(ctx); err != nil {
		logger.Error("Failed to start sync coordinator", "error", err)
		os.Exit(1)
	}
	prober.Start(ctx)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server ready to accept connections", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down client...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// background triggers first, then the in-flight pass finishes inside Stop
	prober.Stop()
	coordinator.Stop()

	if syncTelemetry != nil {
		if err := syncTelemetry.Close(); err != nil {
			logger.Warn("Failed to unregister sync telemetry", "error", err)
		}
	}
	otelTelemetry.Shutdown(shutdownCtx)

	logger.Info("Client exited")
}

// seedStore writes the seed items only when the store has never been initialized
func seedStore(ctx context.Context, store *storage.LocalStore, seedFile string) error {
	var items []models.InventoryItem
	if seedFile != "" {
		loaded, err := storage.LoadSeedFile(seedFile)
		if err != nil {
			return err
		}
		items = loaded
	} else {
		items = storage.DefaultSeedItems(time.Now().UTC())
	}

	_, err := store.Seed(ctx, items)
	return err
}
