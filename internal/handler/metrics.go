package handler

import (
	"fmt"
	"net/http"

	"github.com/keymeter/keymeter/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "keymeter_users_registered_total %d\n", snap.UsersRegistered)
	writeMetric(w, "keymeter_users_deleted_total %d\n", snap.UsersDeleted)
	writeMetric(w, "keymeter_limits_updated_total %d\n", snap.LimitsUpdated)

	writeMetric(w, "keymeter_requests_consumed_total %d\n", snap.RequestsConsumed)
	writeMetric(w, "keymeter_quota_exhausted_total %d\n", snap.QuotaExhausted)
	writeMetric(w, "keymeter_consume_duration_seconds_count %d\n", snap.ConsumeDurationCount)
	writeMetric(w, "keymeter_consume_duration_seconds_sum %.6f\n", float64(snap.ConsumeDurationTotalNs)/1e9)

	writeMetric(w, "keymeter_auth_failures_total{kind=\"system_key\"} %d\n", snap.SystemKeyRejections)
	writeMetric(w, "keymeter_auth_failures_total{kind=\"token\"} %d\n", snap.InvalidTokens)
	writeMetric(w, "keymeter_token_throttled_total %d\n", snap.TokenThrottled)

	writeMetric(w, "keymeter_usage_events_published_total{status=\"success\"} %d\n", snap.UsageEventsPublished)
	writeMetric(w, "keymeter_usage_events_published_total{status=\"dropped\"} %d\n", snap.UsageEventsDropped)

	writeMetric(w, "keymeter_usage_events_rolled_up_total{status=\"success\"} %d\n", snap.UsageEventsRolledUp)
	writeMetric(w, "keymeter_usage_events_rolled_up_total{status=\"duplicate\"} %d\n", snap.UsageEventsDuplicate)
	writeMetric(w, "keymeter_usage_events_rolled_up_total{status=\"dead_lettered\"} %d\n", snap.UsageEventsDeadLetter)
	writeMetric(w, "keymeter_usage_backlog %d\n", snap.UsageBacklog)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
