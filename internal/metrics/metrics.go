// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// User management metrics
	IncUserRegistered()
	IncUserDeleted()
	IncLimitUpdated()

	// Quota metrics
	IncRequestConsumed()
	IncQuotaExhausted()
	ObserveConsumeDuration(duration time.Duration)

	// Authorization failures; kind is "system_key" or "token".
	IncAuthFailure(kind string)

	// Token endpoint throttling
	IncTokenThrottled()

	// Usage event pipeline; status is "success" or "dropped".
	IncUsageEventPublished(status string)

	// Usage roll-up worker; status is "success", "duplicate" or "dead_lettered".
	IncUsageEventRolledUp(status string)
	SetUsageBacklog(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
