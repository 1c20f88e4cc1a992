package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DeadLetterStreamKey receives stream entries the roll-up cannot parse.
	DeadLetterStreamKey = "stream:usage_events:dlq"

	rollupKeyPrefix = "usage:rollup:"
	seenKeyPrefix   = "usage:seen:"

	// rollupTTL keeps a month's counters for a little over a year.
	rollupTTL = 400 * 24 * time.Hour
	// seenTTL bounds how long redeliveries of one event are recognized.
	seenTTL = 7 * 24 * time.Hour

	maxUsernameLength = 255
)

// rollupScript counts an event once per event ID.
// KEYS[1] = seen marker, KEYS[2] = month hash
// ARGV[1] = user id, ARGV[2] = hash TTL (s), ARGV[3] = marker TTL (s)
// Returns 1 when counted, 0 for a duplicate.
var rollupScript = redis.NewScript(`
if redis.call('SET', KEYS[1], '1', 'NX', 'EX', tonumber(ARGV[3])) then
	redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
	redis.call('EXPIRE', KEYS[2], tonumber(ARGV[2]))
	return 1
end
return 0
`)

// Validate rejects events that cannot be attributed to a user and month.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("id is required")
	}
	if e.UserID <= 0 {
		return errors.New("uid must be positive")
	}
	if e.ConsumedAt <= 0 {
		return errors.New("t must be set")
	}
	if len(e.Username) > maxUsernameLength {
		return errors.New("u too long")
	}
	return nil
}

// Month returns the billing month (UTC) the event belongs to.
func (e Event) Month() time.Time {
	t := time.UnixMilli(e.ConsumedAt).UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// RollupKey returns the Redis hash holding per-user counts for month.
func RollupKey(month time.Time) string {
	return rollupKeyPrefix + month.UTC().Format("2006-01")
}

// rollUp adds one event to its month's counters. Reports false when the
// event ID was already counted.
func rollUp(ctx context.Context, client *redis.Client, event Event) (bool, error) {
	counted, err := rollupScript.Run(ctx, client,
		[]string{seenKeyPrefix + event.ID, RollupKey(event.Month())},
		strconv.FormatInt(event.UserID, 10),
		int64(rollupTTL.Seconds()),
		int64(seenTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("roll up event %s: %w", event.ID, err)
	}
	return counted == 1, nil
}

// RollupReader serves the worker's monthly counters.
type RollupReader struct {
	client *redis.Client
}

// NewRollupReader creates a RollupReader.
func NewRollupReader(client *redis.Client) *RollupReader {
	return &RollupReader{client: client}
}

// MonthlyUsage returns per-user counts for the month containing month.
func (r *RollupReader) MonthlyUsage(ctx context.Context, month time.Time) (map[int64]int64, error) {
	return MonthlyUsage(ctx, r.client, month)
}

// MonthlyUsage returns consumed requests per user ID for the month
// containing t, as recorded by the roll-up worker.
func MonthlyUsage(ctx context.Context, client *redis.Client, t time.Time) (map[int64]int64, error) {
	raw, err := client.HGetAll(ctx, RollupKey(t)).Result()
	if err != nil {
		return nil, fmt.Errorf("read usage rollup: %w", err)
	}

	usage := make(map[int64]int64, len(raw))
	for field, value := range raw {
		uid, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		usage[uid] = n
	}
	return usage, nil
}
