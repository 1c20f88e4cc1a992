package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keymeter/keymeter/internal/metrics"
)

const (
	// ConsumerGroup is the Redis consumer group of the roll-up worker.
	ConsumerGroup = "usage_rollup"

	DefaultBatchSize       = 200
	DefaultBlockTimeout    = 5 * time.Second
	DefaultMaxRetries      = 3
	DefaultClaimInterval   = 10 * time.Second
	DefaultClaimIdle       = 30 * time.Second
	DefaultMetricsInterval = 5 * time.Second
)

// NewConsumerID returns a consumer name unique to this process.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

// Worker reads usage events from the stream and maintains per-user monthly
// counters in Redis. Entries are acknowledged only after they are counted, so
// a crashed worker's entries are reclaimed by the next one.
type Worker struct {
	redis           *redis.Client
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	batchSize       int
	blockTimeout    time.Duration
	maxRetries      int
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	retryBackoff    time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker creates a new roll-up worker.
func NewWorker(client *redis.Client, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		redis:           client,
		logger:          logger.With("component", "usage.worker", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		blockTimeout:    DefaultBlockTimeout,
		maxRetries:      DefaultMaxRetries,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		retryBackoff:    time.Second,
		claimStartID:    "0-0",
	}
}

// SetBlockTimeout overrides how long one read blocks waiting for entries.
func (w *Worker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetClaimIdle overrides the idle time after which pending entries of other
// consumers are reclaimed.
func (w *Worker) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		w.claimIdle = idle
	}
}

// Run processes batches until ctx is cancelled or Shutdown is called.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	if err := w.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("usage worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info("usage worker stopping")
			return nil
		}

		if err := w.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			w.logger.Error("process error", "error", err)
			w.sleep(ctx, w.retryBackoff)
		}
	}
}

// Shutdown stops the worker and waits for the current batch to finish.
// It matches server.ShutdownFunc.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("usage worker shutdown timed out")
		return ctx.Err()
	}
}

func (w *Worker) ensureConsumerGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return err
	}
	return nil
}

func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateBacklog(ctx)

	messages, err := w.maybeClaimPending(ctx)
	if err != nil {
		w.logger.Warn("failed to claim pending entries", "error", err)
	}

	if len(messages) == 0 {
		messages, err = w.readBatch(ctx)
		if err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		return nil
	}

	events, ids := w.parseMessages(ctx, messages)

	// Entries are acknowledged only up to the first one that failed, so a
	// failing event and everything after it stay pending.
	counted := 0
	for _, ev := range events {
		if err := w.rollUpWithRetry(ctx, ev.event); err != nil {
			if ackErr := w.ack(ctx, ids[:ev.index]); ackErr != nil {
				w.logger.Warn("failed to ack partial batch", "error", ackErr)
			}
			return err
		}
		counted++
	}

	if err := w.ack(ctx, ids); err != nil {
		return err
	}

	w.logger.Debug("usage batch processed", "entries", len(ids), "events", counted)
	return nil
}

type indexedEvent struct {
	index int
	event Event
}

// parseMessages decodes entries; undecodable ones are dead-lettered and
// still acknowledged.
func (w *Worker) parseMessages(ctx context.Context, messages []redis.XMessage) ([]indexedEvent, []string) {
	events := make([]indexedEvent, 0, len(messages))
	ids := make([]string, 0, len(messages))

	for i, msg := range messages {
		ids = append(ids, msg.ID)

		event, err := Decode(msg.Values)
		if err == nil {
			err = event.Validate()
		}
		if err != nil {
			w.deadLetter(ctx, msg, err.Error())
			continue
		}

		events = append(events, indexedEvent{index: i, event: event})
	}

	return events, ids
}

func (w *Worker) rollUpWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		counted, err := rollUp(ctx, w.redis, event)
		if err == nil {
			if counted {
				w.metrics.IncUsageEventRolledUp("success")
			} else {
				w.metrics.IncUsageEventRolledUp("duplicate")
			}
			return nil
		}

		lastErr = err
		backoff := w.retryBackoff * time.Duration(1<<(attempt-1))
		w.logger.Warn("roll-up failed, retrying",
			"event_id", event.ID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !w.sleep(ctx, backoff) {
			return ctx.Err()
		}
	}

	return lastErr
}

func (w *Worker) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}
	w.lastClaim = time.Now()

	messages, start, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimIdle,
		Start:    w.claimStartID,
		Count:    int64(w.batchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		w.claimStartID = start
	}
	return messages, nil
}

func (w *Worker) maybeUpdateBacklog(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		w.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			w.metrics.SetUsageBacklog(group.Pending + group.Lag)
			return
		}
	}
}

func (w *Worker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	return streams[0].Messages, nil
}

func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	w.logger.Warn("dead-lettering usage entry",
		"message_id", msg.ID,
		"reason", reason,
	)

	err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"reason":           reason,
			"payload":          fmt.Sprint(msg.Values["payload"]),
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		w.logger.Error("failed to write dead-letter entry", "message_id", msg.ID, "error", err)
	}

	w.metrics.IncUsageEventRolledUp("dead_lettered")
}

func (w *Worker) ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// sleep waits for d; false means ctx ended first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
