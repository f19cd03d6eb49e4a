package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs each request and how long it took.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger.Debug("→ request", "method", r.Method, "path", r.URL.Path)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("← response", "method", r.Method, "path", r.URL.Path,
				"status", rec.status, "duration", time.Since(start))
		})
	}
}

// AuthMiddleware requires "Authorization: Bearer <token>" on every route but
// the health check. SNS cannot send custom headers, so basic auth carrying
// the token as password (https://guardybot:<token>@host/api/v1/sns) is
// accepted too. An empty token disables auth.
func AuthMiddleware(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	if token == "" {
		logger.Warn("⚠️ REST_API_AUTH_TOKEN not set - auth disabled")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health check
			if token == "" || r.URL.Path == "/api/v1/health" {
				next.ServeHTTP(w, r)
				return
			}

			if !authorized(r, token) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authorized(r *http.Request, token string) bool {
	if header := r.Header.Get("Authorization"); header != "" {
		if subtle.ConstantTimeCompare([]byte(header), []byte("Bearer "+token)) == 1 {
			return true
		}
	}
	if _, password, ok := r.BasicAuth(); ok {
		return subtle.ConstantTimeCompare([]byte(password), []byte(token)) == 1
	}
	return false
}
