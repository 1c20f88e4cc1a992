package handler

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const readinessTimeout = 3 * time.Second

// Readiness check states.
const (
	checkOK       = "ok"
	checkDisabled = "disabled"
)

// HealthChecker is a dependency that can be pinged.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	deps []dependency
}

type dependency struct {
	name    string
	checker HealthChecker
}

// NewHealthHandler creates a HealthHandler. A nil cache means Redis is not
// configured and is reported as disabled rather than failing readiness.
func NewHealthHandler(db, cache HealthChecker) *HealthHandler {
	return &HealthHandler{deps: []dependency{
		{name: "database", checker: db},
		{name: "redis", checker: cache},
	}}
}

// HealthResponse is the body of both probes.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	LatencyMS map[string]int64  `json:"latency_ms,omitempty"`
}

// Healthz reports that the process is serving.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings every configured dependency in parallel and returns 503 if
// any of them fails.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "ok",
		Checks:    make(map[string]string, len(h.deps)),
		LatencyMS: make(map[string]int64, len(h.deps)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, dep := range h.deps {
		if dep.checker == nil {
			resp.Checks[dep.name] = checkDisabled
			continue
		}

		wg.Add(1)
		go func(dep dependency) {
			defer wg.Done()

			start := time.Now()
			err := dep.checker.Ping(ctx)
			elapsed := time.Since(start).Milliseconds()

			mu.Lock()
			defer mu.Unlock()
			resp.LatencyMS[dep.name] = elapsed
			if err != nil {
				resp.Checks[dep.name] = "error: " + err.Error()
				resp.Status = "unhealthy"
				return
			}
			resp.Checks[dep.name] = checkOK
		}(dep)
	}
	wg.Wait()

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
