package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisAllowLoginWindow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedis(rdb, Config{MaxPerWindow: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.AllowLogin(ctx, "203.0.113.9"); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if err := l.AllowLogin(ctx, "203.0.113.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.AllowLogin(ctx, "198.51.100.1"); err != nil {
		t.Fatalf("other IP throttled: %v", err)
	}

	mr.FastForward(61 * time.Second)
	if err := l.AllowLogin(ctx, "203.0.113.9"); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestRedisDisabledAndEmptyIP(t *testing.T) {
	var nilLimiter *Redis
	if err := nilLimiter.AllowLogin(context.Background(), "1.2.3.4"); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}

	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedis(rdb, Config{MaxPerWindow: 1})
	for i := 0; i < 5; i++ {
		if err := l.AllowLogin(context.Background(), ""); err != nil {
			t.Fatalf("empty ip throttled: %v", err)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatal("empty ip must not create keys")
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr, _ := miniredis.Run()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	l := NewRedis(rdb, Config{MaxPerWindow: 1})
	if err := l.AllowLogin(context.Background(), "1.2.3.4"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestLocalBurstThenRefill(t *testing.T) {
	l := NewLocal(Config{MaxPerWindow: 2, Window: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.AllowLogin(ctx, "ip"); err != nil {
			t.Fatalf("burst %d: %v", i, err)
		}
	}
	if err := l.AllowLogin(ctx, "ip"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}

	now = now.Add(30 * time.Second)
	if err := l.AllowLogin(ctx, "ip"); err != nil {
		t.Fatalf("expected one token refilled: %v", err)
	}
}

func TestLocalEvictsIdle(t *testing.T) {
	l := NewLocal(Config{MaxPerWindow: 1, Window: time.Second})
	now := time.Now()
	l.now = func() time.Time { return now }

	_ = l.AllowLogin(context.Background(), "a")
	now = now.Add(5 * time.Second)
	_ = l.AllowLogin(context.Background(), "b")

	if l.Len() != 1 {
		t.Fatalf("expected idle bucket evicted, len=%d", l.Len())
	}
}

func TestNewLocalDisabled(t *testing.T) {
	if NewLocal(Config{}) != nil {
		t.Fatal("expected nil limiter for zero budget")
	}
	var l *Local
	if err := l.AllowLogin(context.Background(), "x"); err != nil {
		t.Fatalf("nil local limiter: %v", err)
	}
}

func TestLimitersSatisfyInterface(t *testing.T) {
	var _ Limiter = (*Redis)(nil)
	var _ Limiter = (*Local)(nil)
}
