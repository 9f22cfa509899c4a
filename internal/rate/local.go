package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

type bucket struct {
	lim      *xrate.Limiter
	lastSeen time.Time
}

// Local is an in-process per-IP token bucket. A full bucket holds MaxPerWindow tokens
// and refills evenly over Window.
type Local struct {
	mu      sync.Mutex
	limit   xrate.Limit
	burst   int
	idleTTL time.Duration
	entries map[string]*bucket
	now     func() time.Time
}

// NewLocal returns a limiter, or nil when cfg disables throttling.
func NewLocal(cfg Config) *Local {
	if cfg.MaxPerWindow <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Local{
		limit:   xrate.Every(cfg.Window / time.Duration(cfg.MaxPerWindow)),
		burst:   cfg.MaxPerWindow,
		idleTTL: 2 * cfg.Window,
		entries: make(map[string]*bucket),
		now:     time.Now,
	}
}

// AllowLogin takes one token for ip.
func (l *Local) AllowLogin(_ context.Context, ip string) error {
	if l == nil || ip == "" {
		return nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.entries[ip]
	if b == nil {
		b = &bucket{lim: xrate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = b
	}
	b.lastSeen = now

	// Idle buckets are full again, so dropping them is lossless.
	for k, v := range l.entries {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.entries, k)
		}
	}

	if !b.lim.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Len returns the number of tracked IPs.
func (l *Local) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
