package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for an unknown login name, a wrong secret and
	// every other login failure that must not be distinguishable by the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned when the secret is correct but the account is deactivated.
	ErrAccountInactive = errors.New("account inactive")
	// ErrAccountLocked is matched by every *LockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountNotFound is returned by account-id based operations.
	ErrAccountNotFound = errors.New("account not found")
	// ErrLoginRateLimited is returned when the client IP has exhausted its login budget.
	ErrLoginRateLimited = errors.New("login rate limited")

	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
	ErrWrongTokenKind = errors.New("wrong token kind")
	// ErrRevocationUnavailable means the revocation store could not answer. Tokens are
	// rejected while it persists.
	ErrRevocationUnavailable = errors.New("revocation store unavailable")

	// ErrPasswordPolicy is returned when a new password is missing or too short.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")

	// ErrConfiguration wraps every startup validation failure.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrEngineNotReady is returned by a zero or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError reports a login rejected by the lockout window. RetryAfter is the time
// left until Until, measured when the error was built.
type LockedError struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrAccountLocked) hold for any *LockedError.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RetryAfter extracts the retry-after hint from err. ok is false when err is not a lockout.
func RetryAfter(err error) (d time.Duration, ok bool) {
	var le *LockedError
	if !errors.As(err, &le) {
		return 0, false
	}
	return le.RetryAfter, true
}

func newLockedError(until time.Time, retryAfter time.Duration) error {
	return &LockedError{Until: until, RetryAfter: retryAfter}
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
