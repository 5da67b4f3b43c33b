// Package middleware provides HTTP middleware for metrics collection and
// request logging.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/harvq/internal/metrics"
	"go.uber.org/zap"
)

const tasksPrefix = "/api/tasks/"

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// LoggingMiddleware logs one line per request at debug, or at warn for
// server errors.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				logger.Warnw("request failed", fields...)
				return
			}
			logger.Debugw("request", fields...)
		})
	}
}

func normalizeEndpoint(path string) string {
	if !strings.HasPrefix(path, tasksPrefix) || len(path) == len(tasksPrefix) {
		return path
	}

	parts := strings.Split(path[len(tasksPrefix):], "/")
	switch {
	case len(parts) == 1:
		return "/api/tasks/:id"
	case len(parts) == 2 && parts[1] == "result":
		return "/api/tasks/:id/result"
	default:
		return path
	}
}
