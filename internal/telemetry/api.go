package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ApiTelemetry provides request telemetry for an HTTP surface
type ApiTelemetry struct {
	service string

	requestCounter    metric.Int64Counter
	errorCounter      metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// ApiMetrics contains the telemetry data for a request
type ApiMetrics struct {
	Method       string
	Endpoint     string
	StatusCode   int
	Duration     time.Duration
	ErrorMessage string
	ClientIPType string
}

// NewApiTelemetry sets up the request instruments for service on meter
func NewApiTelemetry(meter metric.Meter, service string) (*ApiTelemetry, error) {
	t := &ApiTelemetry{service: service}
	var err error

	t.requestCounter, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of API requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	t.errorCounter, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of API requests answered with an error status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	t.durationHistogram, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("Duration of API requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return t, nil
}

// Record registers one finished request
func (t *ApiTelemetry) Record(ctx context.Context, m ApiMetrics) {
	// Low-cardinality attributes only
	attrs := []attribute.KeyValue{
		attribute.String("service", t.service),
		attribute.String("method", m.Method),
		attribute.String("endpoint", m.Endpoint),
		attribute.Int("status_code", m.StatusCode),
	}
	if m.ClientIPType != "" {
		attrs = append(attrs, attribute.String("client_ip_type", m.ClientIPType))
	}

	if m.StatusCode >= 400 {
		errAttrs := append(attrs, attribute.String("error_type", categorizeError(m.ErrorMessage)))
		t.errorCounter.Add(ctx, 1, metric.WithAttributes(errAttrs...))
		slog.Debug("Recorded API request error",
			"method", m.Method,
			"endpoint", m.Endpoint,
			"status_code", m.StatusCode,
			"error", m.ErrorMessage,
		)
	} else {
		t.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	t.durationHistogram.Record(ctx, m.Duration.Seconds(), metric.WithAttributes(attrs...))
}

// categorizeError groups similar errors to prevent high cardinality
func categorizeError(errorMessage string) string {
	msg := strings.ToLower(errorMessage)
	switch {
	case msg == "":
		return "unknown"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "unauthorized"):
		return "unauthorized"
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "unprocessable"), strings.Contains(msg, "bad request"):
		return "invalid_request"
	case strings.Contains(msg, "conflict"):
		return "conflict"
	case strings.Contains(msg, "unavailable"), strings.Contains(msg, "gateway"):
		return "unavailable"
	case strings.Contains(msg, "internal"):
		return "internal_error"
	default:
		return "other"
	}
}

// NormalizeClientIP categorizes client IPs to control cardinality
func NormalizeClientIP(clientIP string) string {
	if clientIP == "" {
		return "unknown"
	}

	ip := net.ParseIP(clientIP)
	switch {
	case ip == nil:
		return "invalid"
	case ip.IsLoopback():
		return "localhost"
	case ip.IsPrivate(), ip.IsLinkLocalUnicast():
		return "internal"
	default:
		return "external"
	}
}
