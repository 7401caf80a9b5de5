package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCache_ReadWrite(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if _, found, err := c.Read(ctx, "k"); err != nil || found {
		t.Fatalf("expected absent key, got found=%v err=%v", found, err)
	}
	if err := c.Write(ctx, "k", []byte("0"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, found, err := c.Read(ctx, "k")
	if err != nil || !found || string(v) != "0" {
		t.Fatalf("expected stored zero to be found, got %q found=%v err=%v", v, found, err)
	}
}

func TestMemoryCache_IncrementAbsentWritesNothing(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	n, found, err := c.Increment(ctx, "k", 1, time.Minute)
	if err != nil || found || n != 0 {
		t.Fatalf("expected found=false, got n=%d found=%v err=%v", n, found, err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestMemoryCache_IncrementDecrement(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	_ = c.Write(ctx, "k", []byte("5"), 0)

	if n, _, _ := c.Increment(ctx, "k", 3, 0); n != 8 {
		t.Fatalf("expected 8, got %d", n)
	}
	if n, _, _ := c.Decrement(ctx, "k", 10, 0); n != -2 {
		t.Fatalf("expected -2, got %d", n)
	}

	_ = c.Write(ctx, "json", []byte(`{"bucket":1}`), 0)
	if _, _, err := c.Increment(ctx, "json", 1, 0); !errors.Is(err, domain.ErrCacheValue) {
		t.Fatalf("expected ErrCacheValue, got %v", err)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Unix(1_000, 0)}
	c := NewMemoryCache(WithCacheClock(clock.Now), WithCacheCleanupEvery(0))

	_ = c.Write(ctx, "short", []byte("1"), 10*time.Second)
	_ = c.Write(ctx, "forever", []byte("1"), 0)

	clock.Advance(9 * time.Second)
	if _, found, _ := c.Read(ctx, "short"); !found {
		t.Fatalf("expected entry alive before expiry")
	}

	clock.Advance(time.Second)
	if _, found, _ := c.Read(ctx, "short"); found {
		t.Fatalf("expected entry expired")
	}
	if _, found, _ := c.Increment(ctx, "short", 1, 0); found {
		t.Fatalf("expected increment on expired entry to report absent")
	}
	if _, found, _ := c.Read(ctx, "forever"); !found {
		t.Fatalf("expected entry without expiry to survive")
	}
}

func TestMemoryCache_CleanupRemovesExpired(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Unix(1_000, 0)}
	c := NewMemoryCache(WithCacheClock(clock.Now))

	_ = c.Write(ctx, "a", []byte("1"), time.Second)
	_ = c.Write(ctx, "b", []byte("1"), time.Hour)
	clock.Advance(2 * time.Second)

	c.Cleanup()
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after cleanup, got %d", c.Len())
	}
}

func TestMemoryCache_JanitorStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewMemoryCache(WithCacheCleanupEvery(time.Millisecond))
	_ = c.Write(ctx, "a", []byte("1"), time.Millisecond)

	c.StartJanitor(ctx)
	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	if c.Len() != 0 {
		t.Fatalf("expected janitor to remove expired entry")
	}
}
