package middleware

import (
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// ClientMeta stores the caller's address, user agent and request id on the
// request context so services can attach them to audit entries.
func ClientMeta(ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := pkghttp.ExtractClientMeta(r, ipConfig)
			next.ServeHTTP(w, r.WithContext(pkghttp.WithClientMeta(r.Context(), meta)))
		})
	}
}

// SecureLogger returns a middleware for logging HTTP requests with sensitive data redaction
func SecureLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(wrapped, r)

			// query strings may carry patient identifiers
			path := r.URL.Path
			if pkglogger.SanitizeQueryString(r.URL.RawQuery) {
				path += "?[REDACTED]"
			} else if r.URL.RawQuery != "" {
				path += "?" + r.URL.RawQuery
			}

			remote := r.RemoteAddr
			if meta, ok := pkghttp.ClientMetaFromContext(r.Context()); ok {
				remote = meta.IPAddress
			}

			level := slog.LevelInfo
			if wrapped.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			logger.LogAttrs(r.Context(), level, "http_request",
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", wrapped.Status()),
				slog.Int("bytes", wrapped.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("remote_addr", remote),
			)
		})
	}
}
