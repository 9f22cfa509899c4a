package lockout

import (
	"errors"
	"time"

	"github.com/casework/authcore/account"
)

// Status is the evaluated lockout state of an account.
type Status uint8

const (
	// Active accounts may attempt to log in.
	Active Status = iota
	// Locked accounts reject every attempt until Until.
	Locked
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// State is the tagged lockout state. Until is set only when Status is Locked.
type State struct {
	Status Status
	Until  time.Time
}

// RetryAfter returns the time remaining in the lockout window, or zero when Active.
func (s State) RetryAfter(now time.Time) time.Duration {
	if s.Status != Locked {
		return 0
	}
	if d := s.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Policy configures the lockout threshold and window.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// ErrInvalidPolicy is returned by Validate for non-positive settings.
var ErrInvalidPolicy = errors.New("lockout policy requires threshold > 0 and duration > 0")

// Validate reports whether p can drive transitions.
func (p Policy) Validate() error {
	if p.Threshold <= 0 || p.Duration <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Evaluate computes the current state. A LockedUntil at or before now is stale and
// evaluates as Active.
func Evaluate(a account.Account, now time.Time) State {
	if a.LockedUntil != nil && now.Before(*a.LockedUntil) {
		return State{Status: Locked, Until: *a.LockedUntil}
	}
	return State{Status: Active}
}

// FailureResult describes what RecordFailure did.
type FailureResult struct {
	// State after the transition.
	State State
	// Attempts is the failed-attempt count after the transition.
	Attempts int
	// Rejected is true when the account was already locked and nothing changed.
	Rejected bool
	// JustLocked is true when this failure moved the account into Locked.
	JustLocked bool
}

// RecordFailure applies a failed attempt to a.
//
// A currently locked account is left untouched. A stale lock keeps its attempt
// count: the failure is added to it, so one wrong secret after expiry locks the
// account again with a new LockedUntil. Only RecordSuccess and Unlock clear the
// counter.
func RecordFailure(a *account.Account, now time.Time, p Policy) FailureResult {
	st := Evaluate(*a, now)
	if st.Status == Locked {
		return FailureResult{State: st, Attempts: a.FailedAttempts, Rejected: true}
	}

	if a.FailedAttempts < 0 {
		a.FailedAttempts = 0
	}

	a.FailedAttempts++
	if a.FailedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		a.LockedUntil = &until
		return FailureResult{
			State:      State{Status: Locked, Until: until},
			Attempts:   a.FailedAttempts,
			JustLocked: true,
		}
	}
	return FailureResult{State: State{Status: Active}, Attempts: a.FailedAttempts}
}

// RecordSuccess resets the counter, clears any lock and stamps LastLogin.
// Callers must only apply it when Evaluate reports Active.
func RecordSuccess(a *account.Account, now time.Time) {
	a.FailedAttempts = 0
	a.LockedUntil = nil
	t := now
	a.LastLogin = &t
}

// Unlock clears the lock and the counter without touching LastLogin.
// It reports whether anything changed.
func Unlock(a *account.Account) bool {
	changed := a.FailedAttempts != 0 || a.LockedUntil != nil
	a.FailedAttempts = 0
	a.LockedUntil = nil
	return changed
}
