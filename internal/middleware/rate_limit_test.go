package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/clinitrust/internal/auth"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/stretchr/testify/assert"
)

func statusOK() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withClaims(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{UserID: userID, Type: auth.TokenTypeAccess}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

func TestRateLimitByIP(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 2})(statusOK())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// a different client is unaffected
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "192.0.2.11:5000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitByIP_JSONBody(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1})(statusOK())

	var w *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "192.0.2.20:5000"
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestRateLimitByUserID_KeysByUser(t *testing.T) {
	config := AuthenticatedRateLimitConfig{WriteOperationsPerMinute: 1}
	handler := RateLimitByUserID(config, "write")(statusOK())

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/users", nil)
		req.RemoteAddr = "192.0.2.30:5000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withClaims(req, userID))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("user-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("user-1"))
	assert.Equal(t, http.StatusOK, send("user-2"), "same IP, different user")
}

func TestRateLimitByUserID_FallbackToIPWhenNoUserID(t *testing.T) {
	handler := RateLimitByUserID(AuthenticatedRateLimitConfig{ReadOperationsPerMinute: 1}, "read")(statusOK())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.RemoteAddr = "192.0.2.40:5000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
