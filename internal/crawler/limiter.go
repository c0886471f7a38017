package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter enforces the per-host politeness delay. Each host gets its
// own token bucket so that concurrent workers pace requests to a remote
// host instead of collectively bypassing the delay.
type HostLimiter struct {
	// interval is the minimum spacing between requests to one host.
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a limiter enforcing the given interval per host.
// A zero or negative interval disables pacing.
func NewHostLimiter(interval time.Duration) *HostLimiter {
	return &HostLimiter{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host's politeness constraint is satisfied or the
// context is cancelled.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || h.interval <= 0 || host == "" {
		return nil
	}

	host = strings.ToLower(host)

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.interval), 1)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
