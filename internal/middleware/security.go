package middleware

import (
	"net/http"
	"strings"
)

// SecurityConfig holds configuration for security headers.
type SecurityConfig struct {
	// IsDevelopment disables HSTS in dev environments.
	IsDevelopment bool
}

const (
	// apiCSP locks down JSON responses completely.
	apiCSP = "default-src 'none'; frame-ancestors 'none'"
	// pageCSP lets the admin page load its own scripts and styles and call
	// the API on the same origin. The user list renders per-row onclick
	// handlers, which have no stable hash, so inline scripts are allowed on
	// pages only.
	pageCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'; frame-ancestors 'none'"
)

// Security returns a middleware that applies security headers to all responses.
// API and health-check responses get a deny-all CSP and are never cached; the static
// admin page gets a same-origin CSP.
func Security(cfg SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=()")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")

			if isAPIPath(r.URL.Path) {
				h.Set("Content-Security-Policy", apiCSP)
				// Responses may carry tokens and the system key.
				h.Set("Cache-Control", "no-store")
			} else {
				h.Set("Content-Security-Policy", pageCSP)
			}

			if !cfg.IsDevelopment {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}

			h.Del("Server")

			next.ServeHTTP(w, r)
		})
	}
}

func isAPIPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// MaxBodySize returns a middleware that limits request body size.
// When the limit is exceeded mid-stream, subsequent reads return an error
// and the JSON decoder reports a malformed body.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > maxBytes {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}

			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}

			next.ServeHTTP(w, r)
		})
	}
}
