package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keymeter/keymeter/internal/config"
	"github.com/keymeter/keymeter/internal/handler"
	"github.com/keymeter/keymeter/internal/metrics"
	"github.com/keymeter/keymeter/internal/middleware"
	"github.com/keymeter/keymeter/internal/repository"
	"github.com/keymeter/keymeter/internal/service"
)

func TestRedactURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"postgres with password", "postgres://app:s3cret@db:5432/keymeter", "postgres://app@db:5432/keymeter"},
		{"redis password only", "redis://:s3cret@cache:6379/0", "redis://redacted@cache:6379/0"},
		{"sqlite path", "data/keymeter.db", "data/keymeter.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactURL(tt.raw); got != tt.want {
				t.Errorf("redactURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSanitizeError(t *testing.T) {
	dsn := "postgres://app:s3cret@db:5432/keymeter"
	err := &testError{msg: "dial " + dsn + " failed: password=s3cret rejected"}

	got := sanitizeError(err, dsn)
	if strings.Contains(got, "s3cret") {
		t.Fatalf("secret leaked: %s", got)
	}
	if sanitizeError(nil) != "" {
		t.Error("nil error should sanitize to empty string")
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}

	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func newTestRouter(t *testing.T, staticDir string) http.Handler {
	t.Helper()
	ctx := context.Background()

	store, err := repository.Open(ctx, config.DriverSQLite, filepath.Join(t.TempDir(), "keymeter.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.NewInMemory()
	svc := service.NewQuotaService(store, nil, nil, recorder, logger)
	if _, _, err := svc.EnsureSystemKey(ctx); err != nil {
		t.Fatalf("ensure system key: %v", err)
	}

	cfg := &config.Config{
		AppEnv:             "development",
		RequestTimeout:     5 * time.Second,
		MaxRequestBodySize: 1 << 20,
		StaticDir:          staticDir,
	}

	return setupRouter(
		handler.New(svc, logger),
		handler.NewHealthHandler(store, nil),
		handler.NewMetricsHandler(recorder),
		middleware.TokenThrottleConfig{Logger: logger, Metrics: recorder},
		cfg,
		logger,
	)
}

func TestSetupRouter_Routes(t *testing.T) {
	r := newTestRouter(t, "")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/dashboard", http.StatusOK},
		{http.MethodGet, "/api/system/key", http.StatusOK},
		{http.MethodGet, "/api/usage/monthly", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/nope", http.StatusNotFound},
		{http.MethodGet, "/", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Header().Get(middleware.RequestIDHeader) == "" {
				t.Error("missing request ID header")
			}
		})
	}
}

func TestSetupRouter_StaticDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>admin</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	r := newTestRouter(t, dir)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "admin") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'self'") {
		t.Errorf("page CSP = %q", csp)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/missing", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "resource not found") {
		t.Errorf("API 404 = %d %q", rec.Code, rec.Body.String())
	}
}
