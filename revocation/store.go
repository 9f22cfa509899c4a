package revocation

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot answer. Callers must fail
// closed: a token whose revocation status is unknown is not accepted.
var ErrUnavailable = errors.New("revocation store unavailable")

// Store records revoked jtis until their token expires.
//
// Revoke is idempotent: revoking the same jti twice has the same effect as once.
type Store interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
