package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/smukkama/weather-station/internal/validation"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the id assigned to the request, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLog tags every request with an id and logs its outcome
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", RequestID(r.Context()), "panic", rec)
				WriteError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimited rejects requests beyond the limiter's rate. A nil limiter
// lets everything through.
func rateLimited(limiter *rate.Limiter, logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn("rate limit exceeded", "request_id", RequestID(r.Context()), "remote_addr", r.RemoteAddr)
			WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// cronAuthorized requires "Bearer <secret>" when a secret is configured
func cronAuthorized(secret string, next http.HandlerFunc) http.HandlerFunc {
	if secret == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := validation.ExtractAPIKey(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			WriteError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}
