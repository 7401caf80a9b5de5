package application

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// fakeCache é um Cache em memória sem expiração que conta as chamadas.
type fakeCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	calls    int
	failWith error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Read(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failWith != nil {
		return nil, false, c.failWith
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Write(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failWith != nil {
		return c.failWith
	}
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *fakeCache) Increment(_ context.Context, key string, amount int64, _ time.Duration) (int64, bool, error) {
	return c.add(key, amount)
}

func (c *fakeCache) Decrement(_ context.Context, key string, amount int64, _ time.Duration) (int64, bool, error) {
	return c.add(key, -amount)
}

func (c *fakeCache) add(key string, delta int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failWith != nil {
		return 0, false, c.failWith
	}
	v, ok := c.data[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, false, err
	}
	n += delta
	c.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, true, nil
}

func (c *fakeCache) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// fakeClock é um relógio manual em segundos.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(unix int64) *fakeClock {
	return &fakeClock{now: time.Unix(unix, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
