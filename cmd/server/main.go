package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/melibackend/offline-inventory/internal/backend"
	"github.com/melibackend/offline-inventory/internal/config"
	"github.com/melibackend/offline-inventory/internal/telemetry"
)

const (
	serviceName = "inventory-record-store"
	version     = "1.0.0"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg := config.LoadServerConfig()

	slog.Info("Starting inventory record store", "version", version)

	ctx := context.Background()
	otelTelemetry := telemetry.InitMetrics(ctx, serviceName, cfg.MetricsExporter, cfg.MetricsAddr, slog.Default())

	apiTelemetry, err := telemetry.NewApiTelemetry(otelTelemetry.Meter(), serviceName)
	if err != nil {
		slog.Error("Failed to initialize API telemetry", "error", err)
		return
	}

	records, err := backend.NewRecordStore(backend.StoreConfig{
		DataFile:                   cfg.DataFile,
		IdempotencyWindow:          cfg.IdempotencyWindow,
		IdempotencyCleanupInterval: cfg.IdempotencyCleanupInterval,
	}, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize record store", "error", err)
		return
	}

	telemetryMiddleware := telemetry.NewTelemetryMiddleware(apiTelemetry, routeTemplate)
	r := backend.NewRouter(backend.NewHandler(records, version), cfg.APIKeys, telemetryMiddleware.Middleware)

	slog.Debug("Available endpoints",
		"v1_endpoints", []string{
			"GET /v1/items",
			"GET /v1/items/{itemId}",
			"POST /v1/items (create, idempotent on clientMutationId)",
			"PUT /v1/items/{itemId} (update, idempotent on clientMutationId)",
		},
		"system_endpoints", []string{
			"GET /health",
		})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server ready to accept connections", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	records.Close()
	otelTelemetry.Shutdown(shutdownCtx)

	slog.Info("Server exited")
}

// routeTemplate labels metrics with the matched mux template
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	template, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return template
}
