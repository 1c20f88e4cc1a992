// Package usage publishes quota consumption events to a Redis stream so
// downstream consumers can bill or audit usage without touching the database.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keymeter/keymeter/internal/metrics"
	"github.com/keymeter/keymeter/internal/model"
)

const (
	// StreamKey is the Redis stream for usage events.
	StreamKey = "stream:usage_events"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// Event is one successful quota debit.
type Event struct {
	ID           string `json:"id"`
	UserID       int64  `json:"uid"`
	Username     string `json:"u"`
	MonthlyLimit int64  `json:"lim"`
	RequestsUsed int64  `json:"used"`
	Remaining    int64  `json:"rem"`
	ConsumedAt   int64  `json:"t"` // Unix milliseconds
}

// NewEvent builds the event for a user right after a successful debit.
func NewEvent(user *model.User, consumedAt time.Time) Event {
	return Event{
		ID:           ulid.Make().String(),
		UserID:       user.ID,
		Username:     user.Username,
		MonthlyLimit: user.MonthlyLimit,
		RequestsUsed: user.RequestsUsed,
		Remaining:    user.Remaining(),
		ConsumedAt:   consumedAt.UnixMilli(),
	}
}

// Publisher enqueues usage events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
	pending sync.WaitGroup
}

// NewPublisher creates a new usage event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "usage.publisher"),
		metrics: recorder,
	}
}

// Publish adds a usage event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget).
func (p *Publisher) PublishAsync(event Event) {
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish usage event",
				"user_id", event.UserID,
				"event_id", event.ID,
				"error", err,
			)
			p.metrics.IncUsageEventPublished("dropped")
			return
		}

		p.logger.Debug("usage event published",
			"user_id", event.UserID,
			"stream_id", streamID,
		)
		p.metrics.IncUsageEventPublished("success")
	}()
}

// Drain waits for in-flight PublishAsync calls, or until ctx is done.
func (p *Publisher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain usage events: %w", ctx.Err())
	}
}

// Decode parses the payload field of a stream entry.
func Decode(values map[string]interface{}) (Event, error) {
	raw, ok := values["payload"].(string)
	if !ok {
		return Event{}, errors.New("missing payload field")
	}

	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
