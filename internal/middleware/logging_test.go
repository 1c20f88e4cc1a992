package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// serveLogged runs one request through Logger and returns the decoded log
// entry, or nil when nothing was logged at Info or above.
func serveLogged(t *testing.T, h http.HandlerFunc, req *http.Request) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	Logger(logger)(h).ServeHTTP(httptest.NewRecorder(), req)

	if buf.Len() == 0 {
		return nil
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Fields(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/consume-request", nil)
	req.Header.Set("User-Agent", "TestBrowser/2.0")

	entry := serveLogged(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	}, req)
	if entry == nil {
		t.Fatal("nothing logged")
	}

	want := map[string]any{
		"msg":         "http request",
		"method":      "POST",
		"path":        "/api/consume-request",
		"status_code": float64(201),
		"bytes":       float64(5),
		"user_agent":  "TestBrowser/2.0",
	}
	for key, value := range want {
		if entry[key] != value {
			t.Errorf("%s = %v, want %v", key, entry[key], value)
		}
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("missing duration_ms")
	}
}

func TestLogger_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path      string
		status    int
		wantLevel string
	}{
		{"/api/dashboard", http.StatusOK, "INFO"},
		{"/api/users/register", http.StatusCreated, "INFO"},
		{"/api/consume-request", http.StatusUnauthorized, "WARN"},
		{"/api/consume-request", http.StatusTooManyRequests, "WARN"},
		{"/api/users", http.StatusInternalServerError, "ERROR"},
		{"/healthz", http.StatusOK, ""},
		{"/metrics", http.StatusOK, ""},
		{"/readyz", http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.path+" "+http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			entry := serveLogged(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if tt.wantLevel == "" {
				if entry != nil {
					t.Errorf("expected debug-only entry, got %v", entry)
				}
				return
			}
			if entry == nil || entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}

func TestLogger_ImplicitOK(t *testing.T) {
	t.Parallel()

	entry := serveLogged(t, func(w http.ResponseWriter, r *http.Request) {},
		httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if entry == nil || entry["status_code"] != float64(200) {
		t.Errorf("status_code = %v, want 200", entry["status_code"])
	}
}

func TestLogger_BodyNeverLogged(t *testing.T) {
	t.Parallel()

	systemKey := "3f2b8c1e-9d4a-4c6b-8e2f-1a7d5c9b0e3f"
	userToken := "b6e1d0a2-5c3f-4e8b-9a7d-2c4f6e8a0b1d"
	body := `{"system_key":"` + systemKey + `","user_token":"` + userToken + `"}`

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/api/users/register", strings.NewReader(body)))

	for _, secret := range []string{systemKey, userToken} {
		if strings.Contains(buf.String(), secret) {
			t.Errorf("log output contains %q", secret)
		}
	}
}
