package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Supported values of METRICS_EXPORTER
const (
	ExporterScraper = "scraper"
	ExporterGRPC    = "grpc"
	ExporterNone    = "none"
)

// Telemetry owns the meter provider and, for the scraper exporter, the metrics server
type Telemetry struct {
	server   *http.Server          // If exporter == "scraper".
	Provider *metric.MeterProvider // nil when metrics are disabled.
	meter    api.Meter
	logger   *slog.Logger
}

// InitMetrics sets up the global meter provider for the chosen exporter.
// An unusable exporter degrades to a no-op meter instead of failing startup.
func InitMetrics(ctx context.Context, meterName, exporter, scrapeAddr string, logger *slog.Logger) *Telemetry {
	t := &Telemetry{logger: logger}
	if t.logger == nil {
		t.logger = slog.Default()
	}

	switch exporter {
	case ExporterNone:
		t.logger.Info("Metrics disabled")
	case ExporterScraper:
		t.logger.Info("Starting metrics with scraper exporter", "addr", scrapeAddr)
		t.initScrapeMetrics(meterName, scrapeAddr)
	default:
		t.logger.Info("Starting metrics with grpc exporter")
		t.initGRPCMetrics(ctx, meterName)
	}

	if t.meter == nil {
		t.meter = noop.NewMeterProvider().Meter(meterName)
	}
	return t
}

// Meter returns the meter instruments should be created from
func (t *Telemetry) Meter() api.Meter {
	return t.meter
}

// Shutdown flushes pending metrics and stops the scrape server
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t.server != nil {
		_ = t.server.Shutdown(ctx)
		t.logger.Info("Shutting down metrics server")
	}
	if t.Provider != nil {
		if err := t.Provider.Shutdown(ctx); err != nil {
			t.logger.Warn("Failed to shut down meter provider", "error", err)
		}
	}
}

// The endpoint comes from OTEL_EXPORTER_OTLP_METRICS_ENDPOINT, "localhost:4317" if unset.
func (t *Telemetry) initGRPCMetrics(ctx context.Context, meterName string) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		t.logger.Error("Creating GRPC exporter", "error", err)
		return
	}

	t.Provider = metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(30*time.Second))))
	otel.SetMeterProvider(t.Provider)
	t.meter = t.Provider.Meter(meterName)
}

func (t *Telemetry) initScrapeMetrics(meterName, addr string) {
	exporter, err := prometheus.New()
	if err != nil {
		t.logger.Error("Creating HTML scrape exporter", "error", err)
		return
	}

	t.Provider = metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(t.Provider)
	t.meter = t.Provider.Meter(meterName)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	t.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go t.serveMetrics()
}

func (t *Telemetry) serveMetrics() {
	t.logger.Info("Serving metrics", "addr", t.server.Addr, "path", "/metrics")

	err := t.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.logger.Error("ListenAndServe exited with", "error", fmt.Sprint(err))
	}
}
