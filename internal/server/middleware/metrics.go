package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/spigotlabs/spigot/internal/observability"
)

// Metric names emitted per request.
const (
	RequestsTotal        = "http_requests_total"
	RequestDurationMS    = "http_request_duration_ms"
	RequestSizeBytes     = "http_request_size_bytes"
	ResponseSizeBytes    = "http_response_size_bytes"
	RequestErrorsTotal   = "http_errors_total"
	unknownRoute         = "/unknown"
	healthRoutesWildcard = "/health/*"
)

// fixedRoutes labels requests that did not resolve to a chi pattern, such as
// 404s. Anything else collapses to /unknown to keep label cardinality flat.
var fixedRoutes = map[string]string{
	"/":                "/",
	"/version":         "/version",
	"/metrics":         "/metrics",
	"/health":          healthRoutesWildcard,
	"/health/live":     healthRoutesWildcard,
	"/health/ready":    healthRoutesWildcard,
	"/health/startup":  healthRoutesWildcard,
	"/api/claim":       "/api/claim",
	"/api/stats":       "/api/stats",
	"/api/eligibility": "/api/eligibility",
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if label, ok := fixedRoutes[r.URL.Path]; ok {
		return label
	}
	return unknownRoute
}

func errorClass(status int) string {
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "client_error"
}

// RequestMetrics records count, latency, sizes and errors for each request and
// writes one access log line. It is a pass-through when telemetry is off.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tel := observability.TelemetrySystem
		if tel == nil {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		// chi fills in the route pattern while serving, so label afterwards.
		route := routeLabel(r)
		status := strconv.Itoa(rec.status)
		requestSize := max(r.ContentLength, 0)

		labels := map[string]string{"method": r.Method, "endpoint": route, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": route}

		_ = tel.Counter(RequestsTotal, 1, labels)
		_ = tel.Histogram(RequestDurationMS, elapsed, labels)
		_ = tel.Gauge(RequestSizeBytes, float64(requestSize), sizeLabels)
		_ = tel.Gauge(ResponseSizeBytes, float64(rec.bytes), sizeLabels)
		if rec.status >= http.StatusBadRequest {
			_ = tel.Counter(RequestErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   route,
				"status":     status,
				"error_type": errorClass(rec.status),
			})
		}

		if logger := observability.ServerLogger; logger != nil {
			logger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", route),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", rec.bytes),
				zap.String("request_id", GetRequestID(r.Context())))
		}
	})
}
