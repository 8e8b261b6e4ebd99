package http

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

const maxUserAgentLen = 500

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ClientMeta is the request context recorded alongside audit entries.
type ClientMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

type clientMetaKey struct{}

// WithClientMeta stores meta on ctx for code that has no access to the request.
func WithClientMeta(ctx context.Context, meta ClientMeta) context.Context {
	return context.WithValue(ctx, clientMetaKey{}, meta)
}

func ClientMetaFromContext(ctx context.Context) (ClientMeta, bool) {
	meta, ok := ctx.Value(clientMetaKey{}).(ClientMeta)
	return meta, ok
}

// ExtractClientMeta collects the client IP, user agent and chi request id.
func ExtractClientMeta(r *http.Request, config *IPConfig) ClientMeta {
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	return ClientMeta{
		IPAddress: ExtractClientIP(r, config),
		UserAgent: ua,
		RequestID: middleware.GetReqID(r.Context()),
	}
}

// ExtractClientIP returns the client address. Forwarding headers are honoured
// only when the direct peer is a trusted proxy.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config == nil || !isTrustedProxy(remoteIP, config.TrustedProxies) {
		return remoteIP
	}

	// X-Forwarded-For may list several hops, the client is the first valid one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			ip = strings.TrimSpace(ip)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return remoteIP
}

func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}
	return false
}
