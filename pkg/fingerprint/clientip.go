package fingerprint

import (
	"net/http"
	"strings"
)

// ipHeaders is the fixed priority order for proxy-derived client IPs.
// X-Forwarded-For wins because every hop appends to it, so its first entry
// is the original client as seen by the outermost trusted proxy.
var ipHeaders = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
	"Cf-Connecting-Ip",
	"X-Client-Ip",
}

// ClientIP extracts the best-effort client IP from proxy headers, checked in
// fixed priority order. Returns "" when no header carries a usable value;
// callers default that to "unknown" during derivation.
func ClientIP(h http.Header) string {
	for _, name := range ipHeaders {
		if v := h.Get(name); v != "" {
			if ip := firstForwarded(v); ip != "" {
				return ip
			}
		}
	}
	return ""
}

// firstForwarded returns the first entry of a comma-separated header value.
func firstForwarded(v string) string {
	if idx := strings.IndexByte(v, ','); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

// FromRequest assembles derivation metadata from an incoming request.
func FromRequest(r *http.Request) Metadata {
	return Metadata{
		ClientIP:       ClientIP(r.Header),
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	}
}
