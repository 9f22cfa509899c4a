package rate

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited is returned when the caller exceeded its budget for the window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport errors.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Limiter is satisfied by both implementations.
type Limiter interface {
	AllowLogin(ctx context.Context, ip string) error
}
