// Package testutil holds fixtures shared by unit and integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keymeter/keymeter/internal/model"
)

// pgTestLock serializes Postgres integration tests across packages, which
// `go test ./...` runs in parallel against one database.
const pgTestLock int64 = 0x6b6d_7465_7374

// RequireEnv returns the variable or skips the test when it is unset.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

// LockPostgres holds a session advisory lock until the test ends.
func LockPostgres(t testing.TB, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", pgTestLock); err != nil {
		conn.Release()
		t.Fatalf("acquire advisory lock: %v", err)
	}

	t.Cleanup(func() {
		defer conn.Release()
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", pgTestLock); err != nil {
			t.Logf("release advisory lock: %v", err)
		}
	})
}

// ResetPostgres empties every keymeter table and restarts user IDs at 1.
func ResetPostgres(t testing.TB, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), "TRUNCATE TABLE users, system_config RESTART IDENTITY"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

// NewRedisClient connects to REDIS_URL, flushes the selected database and
// closes the client when the test ends. Skips when REDIS_URL is unset.
func NewRedisClient(t testing.TB) *redis.Client {
	t.Helper()

	opt, err := redis.ParseURL(RequireEnv(t, "REDIS_URL"))
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return client
}

var userSeq atomic.Int64

// NewTestUser returns an unsaved user whose username, email and token are
// unique within the test binary. CreatedAt has microsecond precision so it
// compares equal after a Postgres round trip.
func NewTestUser(t testing.TB, name string) *model.User {
	t.Helper()
	n := userSeq.Add(1)
	return &model.User{
		Username:     fmt.Sprintf("%s-%d", name, n),
		Email:        fmt.Sprintf("%s-%d@example.com", name, n),
		PrivateKey:   "tok-" + UniqueID(name),
		MonthlyLimit: model.DefaultMonthlyLimit,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

// NewTestUserWithLimit is NewTestUser with a custom monthly limit.
func NewTestUserWithLimit(t testing.TB, name string, limit int64) *model.User {
	t.Helper()
	user := NewTestUser(t, name)
	user.MonthlyLimit = limit
	return user
}

// UniqueID returns prefix plus a lowercase ULID.
func UniqueID(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}
