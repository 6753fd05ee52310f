package fetch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// connLimiter enforces PARFETCH_MAX_TOTAL_CONNECTIONS and
// PARFETCH_MAX_HOST_CONNECTIONS as a two-level semaphore. Per-host
// semaphores are created lazily, one per host ever seen.
type connLimiter struct {
	total   *semaphore.Weighted
	maxHost int64

	mu    sync.Mutex
	hosts map[string]*semaphore.Weighted
}

func newConnLimiter(maxTotal, maxHost int64) *connLimiter {
	return &connLimiter{
		total:   semaphore.NewWeighted(maxTotal),
		maxHost: maxHost,
		hosts:   make(map[string]*semaphore.Weighted),
	}
}

func (c *connLimiter) hostSem(host string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.hosts[host]
	if !ok {
		s = semaphore.NewWeighted(c.maxHost)
		c.hosts[host] = s
	}
	return s
}

// acquire blocks until both the total and per-host budget allow one
// more in-flight attempt.
func (c *connLimiter) acquire(ctx context.Context, host string) error {
	if err := c.total.Acquire(ctx, 1); err != nil {
		return err
	}
	hs := c.hostSem(host)
	if err := hs.Acquire(ctx, 1); err != nil {
		c.total.Release(1)
		return err
	}
	return nil
}

func (c *connLimiter) release(host string) {
	c.hostSem(host).Release(1)
	c.total.Release(1)
}
