//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/keymeter/keymeter/internal/testutil"
)

func newIntegrationCache(t *testing.T) (context.Context, *Cache) {
	t.Helper()

	redisURL := testutil.RequireEnv(t, "REDIS_URL")
	ctx := context.Background()

	c, err := New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Client().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	return ctx, c
}

func TestIntegrationCache_SystemKey(t *testing.T) {
	ctx, c := newIntegrationCache(t)

	if _, err := c.GetSystemKey(ctx); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := c.SetSystemKey(ctx, "abc"); err != nil {
		t.Fatalf("SetSystemKey failed: %v", err)
	}

	got, err := c.GetSystemKey(ctx)
	if err != nil {
		t.Fatalf("GetSystemKey failed: %v", err)
	}
	if got != "abc" {
		t.Errorf("GetSystemKey = %q, want %q", got, "abc")
	}

	if err := c.DeleteSystemKey(ctx); err != nil {
		t.Fatalf("DeleteSystemKey failed: %v", err)
	}
	if _, err := c.GetSystemKey(ctx); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after delete, got %v", err)
	}
}

func TestIntegrationCache_TokenThrottle(t *testing.T) {
	ctx, c := newIntegrationCache(t)

	ip := testutil.UniqueID("ip")
	for i := 0; i < 3; i++ {
		result, err := c.CheckTokenThrottle(ctx, ip, 1, 3)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	result, err := c.CheckTokenThrottle(ctx, ip, 1, 3)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Allowed {
		t.Fatal("request beyond burst should be throttled")
	}
	if result.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", result.RetryAfter)
	}

	other, err := c.CheckTokenThrottle(ctx, testutil.UniqueID("other-ip"), 1, 3)
	if err != nil {
		t.Fatalf("check other: %v", err)
	}
	if !other.Allowed {
		t.Error("a different IP should have its own bucket")
	}
}
