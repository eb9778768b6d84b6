package observability

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	headerDeviceID  = "X-Device-Id"
	headerRequestID = "X-Request-Id"
	headerForwarded = "X-Forwarded-For"
	headerRealIP    = "X-Real-Ip"
)

// DeviceIDFromRequest returns the client-supplied device id, if any.
func DeviceIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerDeviceID))
}

// RequestIDFromRequest returns X-Request-Id or a fresh id.
func RequestIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(headerRequestID)); id != "" {
		return id
	}
	return uuid.NewString()
}

// IPFromRequest prefers the first forwarded hop, then X-Real-Ip, then the
// peer address.
func IPFromRequest(r *http.Request) string {
	first, _, _ := strings.Cut(r.Header.Get(headerForwarded), ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get(headerRealIP)); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
