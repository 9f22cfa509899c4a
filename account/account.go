package account

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role is the authorization role carried in issued tokens.
type Role string

const (
	// RoleAdmin grants administrative access.
	RoleAdmin Role = "admin"
	// RoleStaff is the default role for case workers.
	RoleStaff Role = "staff"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff:
		return true
	default:
		return false
	}
}

// ParseRole maps a stored role string to a Role. Unknown values are rejected.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", errors.New("unknown role: " + raw)
	}
	return r, nil
}

// Account is the directory record referenced by the core.
//
// FailedAttempts and LockedUntil are the only lockout state; there is no stored
// status field. LastLogin is set only on a successful login.
type Account struct {
	ID             string
	LoginName      string
	DisplayName    string
	CredentialHash string
	Role           Role
	Active         bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastLogin      *time.Time
	CreatedAt      time.Time
}

// Clone returns a deep copy so mutators can work on a private value.
func (a Account) Clone() Account {
	out := a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		out.LockedUntil = &t
	}
	if a.LastLogin != nil {
		t := *a.LastLogin
		out.LastLogin = &t
	}
	return out
}

// Mutator transforms an account inside [Directory.AtomicUpdate]. Returning an error
// aborts the update and nothing is written.
type Mutator func(*Account) error

var (
	// ErrNotFound is returned when no account matches the lookup key.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateLoginName is returned by directories that enforce unique login names.
	ErrDuplicateLoginName = errors.New("login name already registered")
)

// Directory is the durable account store.
//
// FindByID and FindByLoginName return ErrNotFound when the account does not exist.
// AtomicUpdate loads the account under an exclusive lock, applies mutate exactly once
// to a copy, and commits the copy only when mutate returns nil. If ctx is done before
// commit, nothing is written.
type Directory interface {
	FindByID(ctx context.Context, id string) (Account, error)
	FindByLoginName(ctx context.Context, loginName string) (Account, error)
	AtomicUpdate(ctx context.Context, id string, mutate Mutator) (Account, error)
}

// NormalizeLoginName trims surrounding whitespace and lower-cases the name.
func NormalizeLoginName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
