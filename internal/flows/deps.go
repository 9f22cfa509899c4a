package flows

import (
	"context"
	"errors"
	"time"

	"github.com/casework/authcore/jwt"
)

// Deps groups flow dependency sets. The root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login          LoginDeps
	Refresh        RefreshDeps
	Verify         VerifyDeps
	Revoke         RevokeDeps
	ChangePassword ChangePasswordDeps
	Unlock         UnlockDeps
}

// AuditEntry is the flow-level view of a security event. The engine adds the
// timestamp and client IP before handing it to the dispatcher.
type AuditEntry struct {
	Event     string
	Success   bool
	AccountID string
	LoginName string
	SessionID string
	TokenID   string
	Reason    string
	Err       error
	Metadata  func() map[string]string
}

// TokenPair is what a successful login hands back.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Access       *jwt.Claims
	Refresh      *jwt.Claims
}

// Mutator sentinels. They abort an AtomicUpdate without writing and are translated
// into host errors by the flow that raised them.
var (
	errAlreadyLocked    = errors.New("account locked")
	errInactive         = errors.New("account inactive")
	errConcurrentChange = errors.New("credential changed concurrently")
)

func noopMetric(int) {}

func noopAudit(context.Context, AuditEntry) {}

func noopWarn(string, ...any) {}

func retryAfter(until, now time.Time) time.Duration {
	if d := until.Sub(now); d > 0 {
		return d
	}
	return 0
}
