package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/studytrack/internal/metrics"
	"github.com/rs/zerolog"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ContextKeyUserID is the context key for the caller's user ID.
	ContextKeyUserID contextKey = "user_id"

	// ContextKeyTimezone is the context key for the caller's time zone preference.
	ContextKeyTimezone contextKey = "tz"
)

// IdentityMiddleware requires a valid bearer token and stores its claims in
// the request context.
func IdentityMiddleware(auth *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization header")
				return
			}

			claims, err := auth.ValidateToken(strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, claims.UserID)
			ctx = context.WithValue(ctx, ContextKeyTimezone, claims.Timezone)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggingMiddleware logs every request and records request metrics.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.RequestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())

			event := logger.Info()
			if wrapped.statusCode >= http.StatusInternalServerError {
				event = logger.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Msg("API request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// GetUserIDFromContext extracts the caller's user ID from the request context.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(ContextKeyUserID).(string)
	return userID, ok
}

// GetTimezoneFromContext extracts the caller's time zone preference.
func GetTimezoneFromContext(ctx context.Context) (string, bool) {
	tz, ok := ctx.Value(ContextKeyTimezone).(string)
	return tz, ok
}
