package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/emperorhan/wallet-history/internal/metrics"
)

const maxAuditBodyBytes = 1024

// AuditMiddleware records request metrics for every call and logs mutating
// requests (POST, PUT, DELETE) with a body summary.
func AuditMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	auditLogger := logger.With("component", "audit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			mutating := r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete

			var bodySummary string
			if mutating && r.Body != nil {
				bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes+1))
				if err == nil {
					if len(bodyBytes) > maxAuditBodyBytes {
						bodySummary = string(bodyBytes[:maxAuditBodyBytes]) + "...(truncated)"
					} else {
						bodySummary = string(bodyBytes)
					}
					r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(bodyBytes), r.Body))
				}
			}

			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			elapsed := time.Since(start)
			route := routePattern(r)
			metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

			if !mutating {
				return
			}
			auditLogger.Info("api audit",
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"body_summary", bodySummary,
				"response_status", sw.statusCode,
				"duration_ms", elapsed.Milliseconds(),
			)
		})
	}
}

// routePattern returns the matched chi pattern, or "unmatched".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}
