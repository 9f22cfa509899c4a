package revocation

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultSweepEvery is the insert count between amortized sweeps.
const DefaultSweepEvery = 256

// MemoryOptions tunes a [Memory] store.
type MemoryOptions struct {
	// SweepEvery triggers a sweep after this many Revoke calls. Zero uses DefaultSweepEvery.
	SweepEvery int
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]time.Time
	inserts    int
	sweepEvery int
	now        func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = DefaultSweepEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Memory{
		entries:    make(map[string]time.Time),
		sweepEvery: opts.SweepEvery,
		now:        opts.Now,
	}
}

// Revoke records jti until expiresAt. An already expired token is not recorded.
func (m *Memory) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := m.now()
	if !expiresAt.After(now) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.entries[jti]; !ok || expiresAt.After(prev) {
		m.entries[jti] = expiresAt
	}
	m.inserts++
	if m.inserts >= m.sweepEvery {
		m.inserts = 0
		m.sweepLocked(now)
	}
	return nil
}

// IsRevoked reports whether jti is recorded and its token has not yet expired.
func (m *Memory) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	exp, ok := m.entries[jti]
	m.mu.RUnlock()

	return ok && m.now().Before(exp), nil
}

// Sweep drops entries whose expiry is at or before now and returns how many it removed.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(now)
}

func (m *Memory) sweepLocked(now time.Time) int {
	removed := 0
	for jti, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, jti)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.now()); n > 0 {
				log.Printf("authcore: revocation sweep removed %d expired entries", n)
			}
		}
	}
}
