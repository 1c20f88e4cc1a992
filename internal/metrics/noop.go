package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncUserRegistered is a no-op.
func (n *NoopRecorder) IncUserRegistered() {}

// IncUserDeleted is a no-op.
func (n *NoopRecorder) IncUserDeleted() {}

// IncLimitUpdated is a no-op.
func (n *NoopRecorder) IncLimitUpdated() {}

// IncRequestConsumed is a no-op.
func (n *NoopRecorder) IncRequestConsumed() {}

// IncQuotaExhausted is a no-op.
func (n *NoopRecorder) IncQuotaExhausted() {}

// ObserveConsumeDuration is a no-op.
func (n *NoopRecorder) ObserveConsumeDuration(duration time.Duration) {}

// IncAuthFailure is a no-op.
func (n *NoopRecorder) IncAuthFailure(kind string) {}

// IncTokenThrottled is a no-op.
func (n *NoopRecorder) IncTokenThrottled() {}

// IncUsageEventPublished is a no-op.
func (n *NoopRecorder) IncUsageEventPublished(status string) {}

// IncUsageEventRolledUp is a no-op.
func (n *NoopRecorder) IncUsageEventRolledUp(status string) {}

// SetUsageBacklog is a no-op.
func (n *NoopRecorder) SetUsageBacklog(depth int64) {}
