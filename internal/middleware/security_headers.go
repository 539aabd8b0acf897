package middleware

import (
	"net/http"
	"strings"
)

// consolePolicy allows the operator console to open its relay WebSocket and
// to render screen frames from blob URLs.
var consolePolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self' 'unsafe-inline'",
	"style-src 'self' 'unsafe-inline'",
	"img-src 'self' data: blob:",
	"font-src 'self'",
	"connect-src 'self' ws: wss:",
	"frame-ancestors 'none'",
	"base-uri 'self'",
	"form-action 'self'",
}, "; ")

type SecurityHeadersMiddleware struct {
	headers map[string]string
}

func NewSecurityHeadersMiddleware(isProduction bool) *SecurityHeadersMiddleware {
	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Permissions-Policy":      "camera=(), microphone=(), geolocation=()",
		"Content-Security-Policy": consolePolicy,
	}
	if isProduction {
		headers["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
	}
	return &SecurityHeadersMiddleware{headers: headers}
}

func (m *SecurityHeadersMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range m.headers {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
