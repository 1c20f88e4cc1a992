package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestBucketKey(t *testing.T) {
	t.Parallel()

	ips := []string{"192.168.1.1", "192.168.1.2", "::1", "2001:db8::1", ""}
	seen := make(map[string]string, len(ips))

	for _, ip := range ips {
		key := bucketKey(ip)

		if !strings.HasPrefix(key, tokenThrottlePrefix) {
			t.Errorf("bucketKey(%q) = %q, missing prefix", ip, key)
		}
		if digest := strings.TrimPrefix(key, tokenThrottlePrefix); len(digest) != 16 {
			t.Errorf("bucketKey(%q) digest length = %d, want 16", ip, len(digest))
		}
		if ip != "" && strings.Contains(key, ip) {
			t.Errorf("bucketKey(%q) leaks the raw address", ip)
		}
		if other, ok := seen[key]; ok {
			t.Errorf("bucketKey collision between %q and %q", ip, other)
		}
		seen[key] = ip

		if bucketKey(ip) != key {
			t.Errorf("bucketKey(%q) is not stable", ip)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		url          string
		wantPool     int
		wantIdle     int
		wantReadTime time.Duration
	}{
		{"bare URL", "redis://localhost:6379/0", defaultPoolSize, defaultMinIdleConns, defaultReadTimeout},
		{"URL overrides", "redis://localhost:6379/0?pool_size=50&min_idle_conns=5&read_timeout=2s", 50, 5, 2 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opt, err := redis.ParseURL(tt.url)
			if err != nil {
				t.Fatalf("ParseURL: %v", err)
			}
			applyDefaults(opt)

			if opt.PoolSize != tt.wantPool {
				t.Errorf("PoolSize = %d, want %d", opt.PoolSize, tt.wantPool)
			}
			if opt.MinIdleConns != tt.wantIdle {
				t.Errorf("MinIdleConns = %d, want %d", opt.MinIdleConns, tt.wantIdle)
			}
			if opt.ReadTimeout != tt.wantReadTime {
				t.Errorf("ReadTimeout = %v, want %v", opt.ReadTimeout, tt.wantReadTime)
			}
		})
	}
}

func TestNew_InvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), "http://not-redis"); err == nil {
		t.Fatal("expected error for non-redis URL")
	}
}

func TestCheckTokenThrottle_DisabledRate(t *testing.T) {
	t.Parallel()

	// A non-positive rate returns before touching Redis.
	c := &Cache{}
	for _, rate := range []int{0, -1} {
		result, err := c.CheckTokenThrottle(context.Background(), "10.0.0.1", rate, 7)
		if err != nil {
			t.Fatalf("rate %d: unexpected error: %v", rate, err)
		}
		if !result.Allowed || result.Remaining != 7 {
			t.Errorf("rate %d: got %+v, want allowed with 7 remaining", rate, result)
		}
	}
}

func TestCheckTokenThrottle_FailsOpen(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	result, err := NewFromClient(client).CheckTokenThrottle(context.Background(), "10.0.0.1", 5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("unreachable Redis should not block requests")
	}
}
