package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/BradenHooton/clinitrust/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct connection ignores forwarding headers",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			xRealIP:    "192.168.1.1",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "127.0.0.1/32"}},
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy uses first forwarded address",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, 203.0.113.43, 10.0.0.5",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
			want:       "203.0.113.42",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.0.0.5:54321",
			xRealIP:    "203.0.113.50",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
			want:       "203.0.113.50",
		},
		{
			name:       "ipv6 trusted proxy",
			remoteAddr: "[::1]:54321",
			xff:        "2001:db8::1",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"::1/128"}},
			want:       "2001:db8::1",
		},
		{
			name:       "nil config trusts only RemoteAddr",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			want:       "203.0.113.10",
		},
		{
			name:       "invalid CIDR ranges are skipped",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"invalid-cidr-range"}},
			want:       "203.0.113.10",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.10",
			want:       "203.0.113.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}

func TestExtractClientMeta(t *testing.T) {
	var meta pkghttp.ClientMeta
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta = pkghttp.ExtractClientMeta(r, nil)
	}))

	req := httptest.NewRequest("POST", "/api/auth/login", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	req.Header.Set("User-Agent", strings.Repeat("a", 600))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "198.51.100.7", meta.IPAddress)
	assert.Len(t, meta.UserAgent, 500)
	require.NotEmpty(t, meta.RequestID)
}

func TestClientMetaContext(t *testing.T) {
	_, ok := pkghttp.ClientMetaFromContext(context.Background())
	assert.False(t, ok)

	ctx := pkghttp.WithClientMeta(context.Background(), pkghttp.ClientMeta{IPAddress: "10.0.0.1"})
	meta, ok := pkghttp.ClientMetaFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", meta.IPAddress)
}
