package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	UsersRegistered        uint64
	UsersDeleted           uint64
	LimitsUpdated          uint64
	RequestsConsumed       uint64
	QuotaExhausted         uint64
	ConsumeDurationCount   uint64
	ConsumeDurationTotalNs int64
	SystemKeyRejections    uint64
	InvalidTokens          uint64
	TokenThrottled         uint64
	UsageEventsPublished   uint64
	UsageEventsDropped     uint64
	UsageEventsRolledUp    uint64
	UsageEventsDuplicate   uint64
	UsageEventsDeadLetter  uint64
	UsageBacklog           int64
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	usersRegistered        atomic.Uint64
	usersDeleted           atomic.Uint64
	limitsUpdated          atomic.Uint64
	requestsConsumed       atomic.Uint64
	quotaExhausted         atomic.Uint64
	consumeDurationCount   atomic.Uint64
	consumeDurationTotalNs atomic.Int64
	systemKeyRejections    atomic.Uint64
	invalidTokens          atomic.Uint64
	tokenThrottled         atomic.Uint64
	usageEventsPublished   atomic.Uint64
	usageEventsDropped     atomic.Uint64
	usageEventsRolledUp    atomic.Uint64
	usageEventsDuplicate   atomic.Uint64
	usageEventsDeadLetter  atomic.Uint64
	usageBacklog           atomic.Int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		UsersRegistered:        m.usersRegistered.Load(),
		UsersDeleted:           m.usersDeleted.Load(),
		LimitsUpdated:          m.limitsUpdated.Load(),
		RequestsConsumed:       m.requestsConsumed.Load(),
		QuotaExhausted:         m.quotaExhausted.Load(),
		ConsumeDurationCount:   m.consumeDurationCount.Load(),
		ConsumeDurationTotalNs: m.consumeDurationTotalNs.Load(),
		SystemKeyRejections:    m.systemKeyRejections.Load(),
		InvalidTokens:          m.invalidTokens.Load(),
		TokenThrottled:         m.tokenThrottled.Load(),
		UsageEventsPublished:   m.usageEventsPublished.Load(),
		UsageEventsDropped:     m.usageEventsDropped.Load(),
		UsageEventsRolledUp:    m.usageEventsRolledUp.Load(),
		UsageEventsDuplicate:   m.usageEventsDuplicate.Load(),
		UsageEventsDeadLetter:  m.usageEventsDeadLetter.Load(),
		UsageBacklog:           m.usageBacklog.Load(),
	}
}

// IncUserRegistered increments the registration counter.
func (m *InMemoryRecorder) IncUserRegistered() { m.usersRegistered.Add(1) }

// IncUserDeleted increments the deletion counter.
func (m *InMemoryRecorder) IncUserDeleted() { m.usersDeleted.Add(1) }

// IncLimitUpdated increments the limit update counter.
func (m *InMemoryRecorder) IncLimitUpdated() { m.limitsUpdated.Add(1) }

// IncRequestConsumed increments the successful consumption counter.
func (m *InMemoryRecorder) IncRequestConsumed() { m.requestsConsumed.Add(1) }

// IncQuotaExhausted increments the exhausted quota counter.
func (m *InMemoryRecorder) IncQuotaExhausted() { m.quotaExhausted.Add(1) }

// ObserveConsumeDuration records how long a consumption took.
func (m *InMemoryRecorder) ObserveConsumeDuration(duration time.Duration) {
	m.consumeDurationCount.Add(1)
	m.consumeDurationTotalNs.Add(duration.Nanoseconds())
}

// IncAuthFailure increments the failure counter for kind.
func (m *InMemoryRecorder) IncAuthFailure(kind string) {
	switch kind {
	case "system_key":
		m.systemKeyRejections.Add(1)
	case "token":
		m.invalidTokens.Add(1)
	}
}

// IncTokenThrottled increments the throttled request counter.
func (m *InMemoryRecorder) IncTokenThrottled() { m.tokenThrottled.Add(1) }

// IncUsageEventPublished counts a usage event by outcome.
func (m *InMemoryRecorder) IncUsageEventPublished(status string) {
	if status == "success" {
		m.usageEventsPublished.Add(1)
		return
	}
	m.usageEventsDropped.Add(1)
}

// IncUsageEventRolledUp counts a usage event handled by the roll-up worker.
func (m *InMemoryRecorder) IncUsageEventRolledUp(status string) {
	switch status {
	case "success":
		m.usageEventsRolledUp.Add(1)
	case "duplicate":
		m.usageEventsDuplicate.Add(1)
	case "dead_lettered":
		m.usageEventsDeadLetter.Add(1)
	}
}

// SetUsageBacklog records pending plus unread entries for the roll-up group.
func (m *InMemoryRecorder) SetUsageBacklog(depth int64) { m.usageBacklog.Store(depth) }
