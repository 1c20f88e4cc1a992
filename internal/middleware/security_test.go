package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurity(t *testing.T) {
	tests := []struct {
		name        string
		isDev       bool
		path        string
		checkHeader string
		wantPresent bool
		wantValue   string
	}{
		{
			name:        "X-Content-Type-Options is set",
			isDev:       false,
			checkHeader: "X-Content-Type-Options",
			wantPresent: true,
			wantValue:   "nosniff",
		},
		{
			name:        "X-Frame-Options is set",
			isDev:       false,
			checkHeader: "X-Frame-Options",
			wantPresent: true,
			wantValue:   "DENY",
		},
		{
			name:        "Referrer-Policy is set",
			isDev:       false,
			checkHeader: "Referrer-Policy",
			wantPresent: true,
			wantValue:   "strict-origin-when-cross-origin",
		},
		{
			name:        "API CSP is deny-all",
			isDev:       false,
			path:        "/api/users",
			checkHeader: "Content-Security-Policy",
			wantPresent: true,
			wantValue:   apiCSP,
		},
		{
			name:        "admin page CSP allows same origin",
			isDev:       false,
			path:        "/index.html",
			checkHeader: "Content-Security-Policy",
			wantPresent: true,
			wantValue:   pageCSP,
		},
		{
			name:        "readiness CSP is deny-all",
			isDev:       false,
			path:        "/readyz",
			checkHeader: "Content-Security-Policy",
			wantPresent: true,
			wantValue:   apiCSP,
		},
		{
			name:        "HSTS is set in production",
			isDev:       false,
			checkHeader: "Strict-Transport-Security",
			wantPresent: true,
			wantValue:   "max-age=31536000; includeSubDomains; preload",
		},
		{
			name:        "HSTS is NOT set in development",
			isDev:       true,
			checkHeader: "Strict-Transport-Security",
			wantPresent: false,
		},
		{
			name:        "Cache-Control is set for API",
			isDev:       false,
			path:        "/api/system/key",
			checkHeader: "Cache-Control",
			wantPresent: true,
			wantValue:   "no-store",
		},
		{
			name:        "Cache-Control is not forced for static files",
			isDev:       false,
			path:        "/script.js",
			checkHeader: "Cache-Control",
			wantPresent: false,
		},
		{
			name:        "Cross-Origin-Opener-Policy is set",
			isDev:       false,
			checkHeader: "Cross-Origin-Opener-Policy",
			wantPresent: true,
			wantValue:   "same-origin",
		},
		{
			name:        "Cross-Origin-Resource-Policy is set",
			isDev:       false,
			checkHeader: "Cross-Origin-Resource-Policy",
			wantPresent: true,
			wantValue:   "same-origin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := SecurityConfig{
				IsDevelopment: tt.isDev,
			}

			handler := Security(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			path := tt.path
			if path == "" {
				path = "/api/health"
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			got := rec.Header().Get(tt.checkHeader)
			if tt.wantPresent {
				if got == "" {
					t.Errorf("header %s not present, want %s", tt.checkHeader, tt.wantValue)
				} else if got != tt.wantValue {
					t.Errorf("header %s = %q, want %q", tt.checkHeader, got, tt.wantValue)
				}
			} else {
				if got != "" {
					t.Errorf("header %s = %q, want empty", tt.checkHeader, got)
				}
			}
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	tests := []struct {
		name          string
		maxBytes      int64
		contentLength int64
		body          string
		wantStatus    int
	}{
		{
			name:          "small body allowed",
			maxBytes:      1024,
			contentLength: 10,
			body:          "small body",
			wantStatus:    http.StatusOK,
		},
		{
			name:          "content-length exceeds limit",
			maxBytes:      10,
			contentLength: 100,
			body:          "this is a much longer body that exceeds the limit",
			wantStatus:    http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := MaxBodySize(tt.maxBytes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusRequestEntityTooLarge {
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q, want application/json", ct)
				}
			}
		})
	}
}

func TestIsAPIPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api", true},
		{"/api/users/1", true},
		{"/healthz", true},
		{"/metrics", true},
		{"/", false},
		{"/apidocs.html", false},
		{"/index.html", false},
	}

	for _, tt := range tests {
		if got := isAPIPath(tt.path); got != tt.want {
			t.Errorf("isAPIPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

// The admin page wires row buttons through inline onclick attributes.
func TestSecurity_ScriptSources(t *testing.T) {
	h := Security(SecurityConfig{IsDevelopment: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		path       string
		wantInline bool
	}{
		{"/index.html", true},
		{"/", true},
		{"/api/users", false},
		{"/metrics", false},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

		csp := rec.Header().Get("Content-Security-Policy")
		var scriptSrc string
		for _, directive := range strings.Split(csp, ";") {
			if d := strings.TrimSpace(directive); strings.HasPrefix(d, "script-src ") {
				scriptSrc = d
			}
		}
		if got := strings.Contains(scriptSrc, "'unsafe-inline'"); got != tt.wantInline {
			t.Errorf("%s: script-src %q allows inline = %v, want %v", tt.path, scriptSrc, got, tt.wantInline)
		}
	}
}
