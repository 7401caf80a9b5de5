package infra

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

// MemoryCache é um domain.Cache em memória de processo.
//
// Entradas expiradas somem na leitura e pelo janitor (StartJanitor).
// Útil para testes e para um gateway de instância única.
type MemoryCache struct {
	mu           sync.Mutex
	entries      map[string]cacheEntry
	now          func() time.Time
	cleanupEvery time.Duration
}

type cacheEntry struct {
	value []byte
	// zero: sem expiração
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type MemoryCacheOption func(*MemoryCache)

// WithCacheCleanupEvery define o intervalo do janitor (0 desliga).
func WithCacheCleanupEvery(d time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) { c.cleanupEvery = d }
}

// WithCacheClock troca o relógio usado para expiração.
func WithCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		entries:      make(map[string]cacheEntry),
		now:          time.Now,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ domain.Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Read(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), ent.value...), true, nil
}

func (c *MemoryCache) Write(_ context.Context, key string, value []byte, expiresIn time.Duration) error {
	ent := cacheEntry{value: append([]byte(nil), value...)}
	if expiresIn > 0 {
		ent.expiresAt = c.now().Add(expiresIn)
	}

	c.mu.Lock()
	c.entries[key] = ent
	c.mu.Unlock()
	return nil
}

// Increment mantém a expiração da entrada; expiresIn só vale para entradas sem prazo.
func (c *MemoryCache) Increment(_ context.Context, key string, amount int64, expiresIn time.Duration) (int64, bool, error) {
	return c.add(key, amount, expiresIn)
}

func (c *MemoryCache) Decrement(_ context.Context, key string, amount int64, expiresIn time.Duration) (int64, bool, error) {
	return c.add(key, -amount, expiresIn)
}

func (c *MemoryCache) add(key string, delta int64, expiresIn time.Duration) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.lookup(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(string(ent.value), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s is not an integer", domain.ErrCacheValue, key)
	}
	n += delta
	ent.value = []byte(strconv.FormatInt(n, 10))
	if ent.expiresAt.IsZero() && expiresIn > 0 {
		ent.expiresAt = c.now().Add(expiresIn)
	}
	c.entries[key] = ent
	return n, true, nil
}

// lookup exige c.mu travado.
func (c *MemoryCache) lookup(key string) (cacheEntry, bool) {
	ent, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if ent.expired(c.now()) {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return ent, true
}

// Len devolve o número de entradas, incluindo expiradas ainda não limpas.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) Cleanup() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, ent := range c.entries {
		if ent.expired(now) {
			delete(c.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que remove entradas expiradas periodicamente.
// Pare cancelando o contexto.
func (c *MemoryCache) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, c.cleanupEvery, c.Cleanup)
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
type DoneContext interface {
	Done() <-chan struct{}
}

func startJanitor(ctx DoneContext, every time.Duration, cleanup func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				cleanup()
			}
		}
	}()
}
