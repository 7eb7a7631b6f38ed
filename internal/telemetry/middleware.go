package telemetry

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// EndpointFunc returns the route template that served r, for example "/v1/items/{id}".
// It is called after the handler ran so routers have filled in their match.
type EndpointFunc func(r *http.Request) string

// TelemetryMiddleware wraps HTTP handlers to automatically collect telemetry
type TelemetryMiddleware struct {
	telemetry *ApiTelemetry
	endpoint  EndpointFunc
}

// NewTelemetryMiddleware creates a new telemetry middleware
func NewTelemetryMiddleware(telemetry *ApiTelemetry, endpoint EndpointFunc) *TelemetryMiddleware {
	return &TelemetryMiddleware{
		telemetry: telemetry,
		endpoint:  endpoint,
	}
}

// Middleware returns the HTTP middleware function
func (tm *TelemetryMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		endpoint := ""
		if tm.endpoint != nil {
			endpoint = tm.endpoint(r)
		}
		if endpoint == "" {
			// unmatched paths would otherwise explode cardinality
			endpoint = "unmatched"
		}

		metrics := ApiMetrics{
			Method:       r.Method,
			Endpoint:     endpoint,
			StatusCode:   wrapper.statusCode,
			Duration:     time.Since(start),
			ClientIPType: NormalizeClientIP(getClientIP(r)),
		}
		if wrapper.statusCode >= 400 {
			metrics.ErrorMessage = http.StatusText(wrapper.statusCode)
		}

		tm.telemetry.Record(r.Context(), metrics)
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) Write(data []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(data)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
