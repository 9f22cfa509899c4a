package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/casework/authcore/account"
)

func TestLockoutFourFailuresThenSuccessResets(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := env.engine.Login(ctx, testLoginName, "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if got := env.stored(t).FailedAttempts; got != 4 {
		t.Fatalf("expected 4 failed attempts, got %d", got)
	}

	res := env.login(t)
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("expected tokens")
	}

	acct := env.stored(t)
	if acct.FailedAttempts != 0 || acct.LockedUntil != nil {
		t.Fatalf("expected counter reset, got attempts=%d lockedUntil=%v", acct.FailedAttempts, acct.LockedUntil)
	}
	if n := len(env.events.byType(auditEventAccountLocked)); n != 0 {
		t.Fatalf("expected no account_locked event, got %d", n)
	}
	if n := len(env.events.byType(auditEventLoginSuccess)); n != 1 {
		t.Fatalf("expected one login_success event, got %d", n)
	}
}

func TestLockoutFifthFailureLocksAndRejectsCorrectSecret(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = env.engine.Login(ctx, testLoginName, "wrong-password")
	}
	_, err := env.engine.Login(ctx, testLoginName, "wrong-password")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("threshold attempt: expected ErrAccountLocked, got %v", err)
	}
	wait, ok := RetryAfter(err)
	if !ok || wait != 15*time.Minute {
		t.Fatalf("expected 15m retry-after, got %v (ok=%v)", wait, ok)
	}

	locked := env.events.byType(auditEventAccountLocked)
	if len(locked) != 1 {
		t.Fatalf("expected one account_locked event, got %d", len(locked))
	}
	if locked[0].AccountID != env.acct.ID || locked[0].Metadata["retry_after_seconds"] != "900" {
		t.Fatalf("unexpected account_locked event %+v", locked[0])
	}

	env.clock.Advance(time.Second)
	_, err = env.engine.Login(ctx, testLoginName, testPassword)
	var le *LockedError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LockedError with correct secret, got %v", err)
	}
	if le.RetryAfter != 15*time.Minute-time.Second {
		t.Fatalf("unexpected retry-after %v", le.RetryAfter)
	}
	if got := env.stored(t).FailedAttempts; got != 5 {
		t.Fatalf("locked attempt mutated counter: %d", got)
	}
}

func TestLockoutExpiresLazily(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, testLoginName, "wrong-password")
	}
	env.clock.Advance(15 * time.Minute)

	env.login(t)
	acct := env.stored(t)
	if acct.FailedAttempts != 0 || acct.LockedUntil != nil {
		t.Fatalf("success after expiry must clear lockout, got attempts=%d lockedUntil=%v", acct.FailedAttempts, acct.LockedUntil)
	}
}

func TestWrongSecretAfterExpiryRelocks(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, testLoginName, "wrong-password")
	}
	env.clock.Advance(15 * time.Minute)

	_, err := env.engine.Login(ctx, testLoginName, "wrong-password")
	var le *LockedError
	if !errors.As(err, &le) || le.RetryAfter != 15*time.Minute {
		t.Fatalf("expected immediate relock with full retry-after, got %v", err)
	}
	acct := env.stored(t)
	want := env.clock.Now().Add(15 * time.Minute)
	if acct.FailedAttempts != 6 || acct.LockedUntil == nil || !acct.LockedUntil.Equal(want) {
		t.Fatalf("expected attempts=6 lockedUntil=%v, got attempts=%d lockedUntil=%v", want, acct.FailedAttempts, acct.LockedUntil)
	}

	// The correct secret is refused until the new window passes.
	if _, err := env.engine.Login(ctx, testLoginName, testPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked inside new window, got %v", err)
	}
	env.clock.Advance(15 * time.Minute)
	env.login(t)
}

func TestLockoutConcurrentFailuresLockOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	const n = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		invalid int
		locked  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.Login(ctx, testLoginName, "wrong-password")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrAccountLocked):
				locked++
			case errors.Is(err, ErrInvalidCredentials):
				invalid++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if invalid != 4 || locked != n-4 {
		t.Fatalf("expected 4 invalid and %d locked, got %d and %d", n-4, invalid, locked)
	}
	if got := env.stored(t).FailedAttempts; got != 5 {
		t.Fatalf("expected counter 5, got %d", got)
	}
	if got := len(env.events.byType(auditEventAccountLocked)); got != 1 {
		t.Fatalf("expected exactly one account_locked event, got %d", got)
	}
}

func TestLockoutIndependentAccounts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seed(t, "bob@example.org", "bob-password-123", "staff")

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, testLoginName, "wrong-password")
	}
	if _, err := env.engine.Login(ctx, "bob@example.org", "bob-password-123"); err != nil {
		t.Fatalf("other account affected by lockout: %v", err)
	}
}

func TestUnlockAccountRestoresAccess(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, testLoginName, "wrong-password")
	}
	if err := env.engine.UnlockAccount(ctx, env.acct.ID); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	env.login(t)

	if n := len(env.events.byType(auditEventAccountUnlocked)); n != 1 {
		t.Fatalf("expected account_unlocked event, got %d", n)
	}
	if err := env.engine.UnlockAccount(ctx, "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestLoginUnknownAndWrongSecretIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, errUnknown := env.engine.Login(ctx, "nobody@example.org", testPassword)
	_, errWrong := env.engine.Login(ctx, testLoginName, "wrong-password")
	if errUnknown != ErrInvalidCredentials || errWrong != ErrInvalidCredentials {
		t.Fatalf("expected identical errors, got %v and %v", errUnknown, errWrong)
	}

	failed := env.events.byType(auditEventLoginFailed)
	if len(failed) != 2 || failed[0].Reason != "user_not_found" || failed[1].Reason != "wrong_password" {
		t.Fatalf("audit log must keep the precise reason, got %+v", failed)
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, _ = env.dir.AtomicUpdate(ctx, env.acct.ID, func(a *account.Account) error {
		a.Active = false
		return nil
	})

	if _, err := env.engine.Login(ctx, testLoginName, testPassword); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestLoginNormalizesLoginName(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.Login(context.Background(), "  Alice@Example.ORG ", testPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}
}

func TestLoginRateLimitPerIP(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Security.LoginRateLimit = 2
	})
	ctx := WithClientIP(context.Background(), "198.51.100.7")

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, testLoginName, testPassword); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := env.engine.Login(ctx, testLoginName, testPassword); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
	other := WithClientIP(context.Background(), "198.51.100.8")
	if _, err := env.engine.Login(other, testLoginName, testPassword); err != nil {
		t.Fatalf("other IP throttled: %v", err)
	}

	limited := env.events.byType(auditEventLoginRateLimited)
	if len(limited) != 1 || limited[0].IP != "198.51.100.7" {
		t.Fatalf("unexpected rate limit events %+v", limited)
	}
}
