package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is the in-process Counter used by tests and single-node
// deployments. Counts live in a mutex-guarded map; a janitor sweeps expired
// windows so idle keys do not accumulate.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type window struct {
	count     int64
	expiresAt time.Time
}

// MemoryOption configures MemoryCounter behavior.
type MemoryOption func(*MemoryCounter)

// WithMemoryClock overrides the time source (useful for tests).
func WithMemoryClock(fn func() time.Time) MemoryOption {
	return func(c *MemoryCounter) {
		if fn != nil {
			c.now = fn
		}
	}
}

func NewMemoryCounter(opts ...MemoryOption) *MemoryCounter {
	c := &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.janitor()
	return c
}

// IncrementAndGet atomically bumps the counter for the key, starting a fresh
// window when none is live.
func (c *MemoryCounter) IncrementAndGet(_ context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(ttl)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.expiresAt, nil
}

// Close stops the janitor goroutine.
func (c *MemoryCounter) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCounter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, w := range c.windows {
				if !now.Before(w.expiresAt) {
					delete(c.windows, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
