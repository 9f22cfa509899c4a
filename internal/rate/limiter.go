package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds login throttle parameters.
type Config struct {
	// MaxPerWindow is the number of login requests allowed per IP per Window.
	MaxPerWindow int
	Window       time.Duration
}

// Redis enforces the per-IP login budget with Redis counters.
type Redis struct {
	redis  redis.UniversalClient
	config Config
}

// NewRedis creates a limiter backed by the given client.
func NewRedis(redisClient redis.UniversalClient, cfg Config) *Redis {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Redis{redis: redisClient, config: cfg}
}

// AllowLogin counts one login request from ip and returns ErrRateLimited once the
// window budget is spent. An empty ip is never throttled.
func (l *Redis) AllowLogin(ctx context.Context, ip string) error {
	if l == nil || l.config.MaxPerWindow <= 0 || ip == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, loginIPKey(ip), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxPerWindow) {
		return ErrRateLimited
	}
	return nil
}

func (l *Redis) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

func loginIPKey(ip string) string {
	return "rl:login:" + ip
}
