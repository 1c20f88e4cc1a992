package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/keymeter/keymeter/internal/cache"
	"github.com/keymeter/keymeter/internal/metrics"
)

// Throttler takes one token from a client IP's bucket.
type Throttler interface {
	CheckTokenThrottle(ctx context.Context, ip string, ratePerSecond, burst int) (*cache.RateLimitResult, error)
}

// TokenThrottleConfig holds configuration for the token endpoint throttle.
type TokenThrottleConfig struct {
	Logger    *slog.Logger
	Throttler Throttler
	Metrics   metrics.Recorder
	Enabled   bool
	RPS       int // Requests per second
	Burst     int

	// TrustProxy keys buckets on X-Forwarded-For / X-Real-IP. Only set it
	// behind a proxy that overwrites those headers; otherwise a client can
	// rotate them to get a fresh bucket per request.
	TrustProxy bool
}

// TokenThrottle returns middleware that limits how fast one IP can hit the
// token endpoints, which slows down token guessing. It is a no-op when
// disabled or when no Throttler (Redis) is configured.
func TokenThrottle(cfg TokenThrottleConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled || cfg.Throttler == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r, cfg.TrustProxy)

			result, err := cfg.Throttler.CheckTokenThrottle(r.Context(), ip, cfg.RPS, cfg.Burst)
			if err != nil {
				cfg.Logger.Error("token throttle check failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				// Fail open - allow request
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				cfg.Metrics.IncTokenThrottled()
				cfg.Logger.Warn("token endpoint throttled",
					slog.String("ip", ip),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int64("retry_after_ms", result.RetryAfter.Milliseconds()),
					slog.String("request_id", GetRequestID(r.Context())),
				)

				writeThrottleError(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeThrottleError writes a 429 Too Many Requests response.
func writeThrottleError(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int((retryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSONError(w, http.StatusTooManyRequests, "too many requests, retry after "+strconv.Itoa(seconds)+" seconds")
}

// getClientIP returns the address the throttle keys on. Forwarding headers
// are consulted only when trustProxy is set.
func getClientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteHost(r)
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
