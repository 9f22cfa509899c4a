package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/casework/authcore/account"
	"github.com/casework/authcore/internal/lockout"
)

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	Account  account.Account
	Tokens   TokenPair
	Upgraded bool
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginLocked      int
	LoginRateLimited int
	AccountLocked    int
	PasswordUpgraded int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	AccountLocked    string
	LoginRateLimited string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountInactive    error
	LoginRateLimited   error
	// Locked builds the host's retry-after error.
	Locked func(until time.Time, retryAfter time.Duration) error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Lockout        lockout.Policy
	UpgradeOnLogin bool

	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	// AllowLogin reports whether ip still has login budget. A non-nil error means the
	// limiter itself failed; the attempt then proceeds.
	AllowLogin func(ctx context.Context, ip string) (bool, error)

	FindByLoginName func(ctx context.Context, loginName string) (account.Account, error)
	AtomicUpdate    func(ctx context.Context, id string, mutate account.Mutator) (account.Account, error)

	VerifyPassword func(secret, encodedHash string) (bool, error)
	Equalize       func(secret string)
	NeedsRehash    func(encodedHash string) bool
	HashPassword   func(secret string) (string, error)

	IssuePair func(ctx context.Context, acct account.Account) (TokenPair, error)

	MetricInc func(int)
	EmitAudit func(context.Context, AuditEntry)
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func (d *LoginDeps) applyDefaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ClientIPFromContext == nil {
		d.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if d.Equalize == nil {
		d.Equalize = func(string) {}
	}
	if d.NeedsRehash == nil {
		d.NeedsRehash = func(string) bool { return false }
	}
	if d.MetricInc == nil {
		d.MetricInc = noopMetric
	}
	if d.EmitAudit == nil {
		d.EmitAudit = noopAudit
	}
	if d.Warn == nil {
		d.Warn = noopWarn
	}
}

// RunLogin authenticates loginName/secret and issues a token pair.
//
// The secret is verified outside any account lock. Only the lockout bookkeeping runs
// inside AtomicUpdate, so a slow hash never holds the per-account lock.
func RunLogin(ctx context.Context, loginName, secret string, deps LoginDeps) (*LoginResult, error) {
	deps.applyDefaults()
	if deps.FindByLoginName == nil ||
		deps.AtomicUpdate == nil ||
		deps.VerifyPassword == nil ||
		deps.IssuePair == nil ||
		deps.Errors.Locked == nil {
		return nil, deps.Errors.EngineNotReady
	}

	name := account.NormalizeLoginName(loginName)
	ip := deps.ClientIPFromContext(ctx)

	fail := func(acct *account.Account, reason string, err error, meta func() map[string]string) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		entry := AuditEntry{
			Event:     deps.Events.LoginFailure,
			LoginName: name,
			Reason:    reason,
			Err:       err,
			Metadata:  meta,
		}
		if acct != nil {
			entry.AccountID = acct.ID
		}
		deps.EmitAudit(ctx, entry)
	}

	if deps.AllowLogin != nil {
		allowed, err := deps.AllowLogin(ctx, ip)
		if err != nil {
			deps.Warn("authcore: login rate limiter unavailable: %v", err)
		} else if !allowed {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, AuditEntry{
				Event:     deps.Events.LoginRateLimited,
				LoginName: name,
				Reason:    "ip_rate_limited",
				Err:       deps.Errors.LoginRateLimited,
			})
			return nil, deps.Errors.LoginRateLimited
		}
	}

	if name == "" || secret == "" {
		reason := "empty_password"
		if name == "" {
			reason = "empty_login_name"
		}
		fail(nil, reason, deps.Errors.InvalidCredentials, nil)
		return nil, deps.Errors.InvalidCredentials
	}

	acct, err := deps.FindByLoginName(ctx, name)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			deps.Equalize(secret)
			fail(nil, "user_not_found", deps.Errors.InvalidCredentials, nil)
			return nil, deps.Errors.InvalidCredentials
		}
		return nil, err
	}

	if st := lockout.Evaluate(acct, deps.Now()); st.Status == lockout.Locked {
		return nil, rejectLocked(ctx, &deps, acct, name, st)
	}

	ok, verr := deps.VerifyPassword(secret, acct.CredentialHash)
	if verr != nil {
		deps.Warn("authcore: stored credential for account %s is unusable: %v", acct.ID, verr)
		ok = false
	}

	if !ok {
		return nil, recordFailedAttempt(ctx, &deps, acct, name, fail)
	}

	if !acct.Active {
		fail(&acct, "user_inactive", deps.Errors.AccountInactive, nil)
		return nil, deps.Errors.AccountInactive
	}

	var newHash string
	if deps.UpgradeOnLogin && deps.HashPassword != nil && deps.NeedsRehash(acct.CredentialHash) {
		h, err := deps.HashPassword(secret)
		if err != nil {
			deps.Warn("authcore: password hash upgrade generation failed: %v", err)
		} else {
			newHash = h
		}
	}

	var (
		lockedState lockout.State
		upgraded    bool
	)
	updated, err := deps.AtomicUpdate(ctx, acct.ID, func(a *account.Account) error {
		now := deps.Now()
		if st := lockout.Evaluate(*a, now); st.Status == lockout.Locked {
			lockedState = st
			return errAlreadyLocked
		}
		if !a.Active {
			return errInactive
		}
		if newHash != "" && a.CredentialHash == acct.CredentialHash {
			a.CredentialHash = newHash
			upgraded = true
		}
		lockout.RecordSuccess(a, now)
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyLocked):
		return nil, rejectLocked(ctx, &deps, acct, name, lockedState)
	case errors.Is(err, errInactive):
		fail(&acct, "user_inactive", deps.Errors.AccountInactive, nil)
		return nil, deps.Errors.AccountInactive
	case errors.Is(err, account.ErrNotFound):
		fail(&acct, "user_not_found", deps.Errors.InvalidCredentials, nil)
		return nil, deps.Errors.InvalidCredentials
	case err != nil:
		return nil, err
	}
	if upgraded {
		deps.MetricInc(deps.Metrics.PasswordUpgraded)
	}

	pair, err := deps.IssuePair(ctx, updated)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, AuditEntry{
		Event:     deps.Events.LoginSuccess,
		Success:   true,
		AccountID: updated.ID,
		LoginName: name,
		SessionID: pair.Access.SID,
		TokenID:   pair.Access.ID,
		Metadata: func() map[string]string {
			if !upgraded {
				return nil
			}
			return map[string]string{"credential_upgraded": "true"}
		},
	})

	return &LoginResult{Account: updated, Tokens: pair, Upgraded: upgraded}, nil
}

func recordFailedAttempt(
	ctx context.Context,
	deps *LoginDeps,
	acct account.Account,
	name string,
	fail func(*account.Account, string, error, func() map[string]string),
) error {
	var res lockout.FailureResult
	_, err := deps.AtomicUpdate(ctx, acct.ID, func(a *account.Account) error {
		res = lockout.RecordFailure(a, deps.Now(), deps.Lockout)
		if res.Rejected {
			return errAlreadyLocked
		}
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyLocked):
		return rejectLocked(ctx, deps, acct, name, res.State)
	case errors.Is(err, account.ErrNotFound):
		fail(&acct, "user_not_found", deps.Errors.InvalidCredentials, nil)
		return deps.Errors.InvalidCredentials
	case err != nil:
		return err
	}

	attempts := strconv.Itoa(res.Attempts)
	fail(&acct, "wrong_password", deps.Errors.InvalidCredentials, func() map[string]string {
		return map[string]string{"failed_attempts": attempts}
	})
	if !res.JustLocked {
		return deps.Errors.InvalidCredentials
	}

	now := deps.Now()
	wait := retryAfter(res.State.Until, now)
	deps.MetricInc(deps.Metrics.AccountLocked)
	deps.EmitAudit(ctx, AuditEntry{
		Event:     deps.Events.AccountLocked,
		AccountID: acct.ID,
		LoginName: name,
		Reason:    "failed_attempt_threshold",
		Metadata: func() map[string]string {
			return map[string]string{
				"failed_attempts":     attempts,
				"locked_until":        res.State.Until.UTC().Format(time.RFC3339),
				"retry_after_seconds": strconv.FormatInt(int64(wait.Round(time.Second)/time.Second), 10),
			}
		},
	})
	return deps.Errors.Locked(res.State.Until, wait)
}

func rejectLocked(ctx context.Context, deps *LoginDeps, acct account.Account, name string, st lockout.State) error {
	wait := st.RetryAfter(deps.Now())
	lockErr := deps.Errors.Locked(st.Until, wait)
	deps.MetricInc(deps.Metrics.LoginLocked)
	deps.EmitAudit(ctx, AuditEntry{
		Event:     deps.Events.LoginFailure,
		AccountID: acct.ID,
		LoginName: name,
		Reason:    "account_locked",
		Err:       lockErr,
		Metadata: func() map[string]string {
			return map[string]string{
				"retry_after_seconds": strconv.FormatInt(int64(wait.Round(time.Second)/time.Second), 10),
			}
		},
	})
	return lockErr
}
