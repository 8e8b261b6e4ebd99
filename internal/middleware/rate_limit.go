package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/clinitrust/internal/auth"
	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns default rate limit config for auth endpoints (10 requests per minute)
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// AuthenticatedRateLimitConfig sets per-user limits by operation class.
type AuthenticatedRateLimitConfig struct {
	ReadOperationsPerMinute  int
	WriteOperationsPerMinute int
	AdminOperationsPerMinute int
}

func DefaultAuthenticatedRateLimit() AuthenticatedRateLimitConfig {
	return AuthenticatedRateLimitConfig{
		ReadOperationsPerMinute:  300,
		WriteOperationsPerMinute: 60,
		AdminOperationsPerMinute: 60,
	}
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// It complements the per-account lockout, which cannot stop one client
// guessing across many accounts.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByUserID limits authenticated requests per user. Requests without
// claims fall back to the client IP.
func RateLimitByUserID(config AuthenticatedRateLimitConfig, operation string) func(next http.Handler) http.Handler {
	limit := config.ReadOperationsPerMinute
	switch operation {
	case "write":
		limit = config.WriteOperationsPerMinute
	case "admin":
		limit = config.AdminOperationsPerMinute
	}
	if limit <= 0 {
		limit = DefaultAuthenticatedRateLimit().ReadOperationsPerMinute
	}

	return httprate.Limit(
		limit,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				return operation + ":user:" + claims.UserID, nil
			}
			ip, err := httprate.KeyByRealIP(r)
			return operation + ":ip:" + ip, err
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}
