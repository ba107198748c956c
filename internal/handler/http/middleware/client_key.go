// Package middleware adapts the policy pipeline to net/http: it derives the
// request descriptor from the incoming request, runs the stage chain, and
// translates rejections into JSON error responses.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"chat-gateway/internal/pipeline"
)

// KeyResolver derives the client key used to partition rate-limit state
// from an HTTP request. Resolution never fails: requests whose address
// cannot be parsed resolve to pipeline.UnknownClientKey, so they stay
// rate-limited (collectively) instead of bypassing the limiter.
type KeyResolver interface {
	// ResolveKey returns the client key for the request.
	ResolveKey(r *http.Request) string
}

// RemoteAddrResolver derives the key from the TCP connection address.
// This is the default and most conservative strategy: RemoteAddr cannot be
// spoofed by the client, unlike forwarded-for headers.
type RemoteAddrResolver struct{}

// ResolveKey strips the port from r.RemoteAddr. Handles IPv4 and IPv6.
func (RemoteAddrResolver) ResolveKey(r *http.Request) string {
	return ipFromAddr(r.RemoteAddr)
}

// TrustedProxyConfig lists the reverse proxies whose forwarded-for headers
// may be believed.
type TrustedProxyConfig struct {
	// Enabled turns header-based key resolution on. When false all
	// header extraction is disabled.
	Enabled bool

	// AllowedCIDRs is the set of trusted proxy ranges. Single addresses
	// are expressed as /32 or /128 prefixes.
	AllowedCIDRs []netip.Prefix
}

// IsTrusted reports whether remoteAddr belongs to a trusted proxy.
func (c *TrustedProxyConfig) IsTrusted(remoteAddr string) bool {
	ip := ipFromAddr(remoteAddr)
	if ip == pipeline.UnknownClientKey {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range c.AllowedCIDRs {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// TrustedProxyResolver derives the client key from X-Forwarded-For or
// X-Real-IP, but only when the directly connected peer is a trusted proxy.
// Untrusted peers fall back to RemoteAddr, which prevents rate-limit bypass
// by clients rotating a spoofed X-Forwarded-For value.
type TrustedProxyResolver struct {
	config TrustedProxyConfig
}

// NewTrustedProxyResolver creates a resolver with the given proxy trust
// configuration.
func NewTrustedProxyResolver(config TrustedProxyConfig) *TrustedProxyResolver {
	return &TrustedProxyResolver{config: config}
}

// ResolveKey applies the trust check and header extraction order:
// X-Forwarded-For (first address), then X-Real-IP, then RemoteAddr.
func (e *TrustedProxyResolver) ResolveKey(r *http.Request) string {
	if !e.config.Enabled {
		return ipFromAddr(r.RemoteAddr)
	}

	if !e.config.IsTrusted(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			slog.Warn("untrusted peer attempting to set X-Forwarded-For",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("x_forwarded_for", xff),
			)
		}
		return ipFromAddr(r.RemoteAddr)
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := firstIP(xff); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String()
		}
	}
	return ipFromAddr(r.RemoteAddr)
}

// ipFromAddr extracts the IP from a "host:port" or bare-IP string. It
// returns pipeline.UnknownClientKey when nothing parseable remains, which
// keys such requests into one shared rate-limit bucket.
func ipFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err == nil && host != "" {
		return host
	}
	if ip := net.ParseIP(strings.TrimSpace(addr)); ip != nil {
		return ip.String()
	}
	return pipeline.UnknownClientKey
}

// firstIP parses the first address of a comma-separated X-Forwarded-For
// list ("client, proxy1, proxy2"). Returns "" when the first entry is not
// a valid IP; the caller then falls through to the next source.
func firstIP(s string) string {
	first := s
	if i := strings.IndexByte(s, ','); i >= 0 {
		first = s[:i]
	}
	if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
		return ip.String()
	}
	return ""
}
