package flows

import (
	"context"
	"errors"

	"github.com/casework/authcore/account"
)

type ChangePasswordMetrics struct {
	PasswordChangeSuccess int
	PasswordChangeFailure int
}

type ChangePasswordEvents struct {
	PasswordChanged      string
	PasswordChangeFailed string
}

type ChangePasswordErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountInactive    error
	AccountNotFound    error
	PasswordPolicy     error
	PasswordReuse      error
}

// ChangePasswordDeps captures change-password dependencies.
type ChangePasswordDeps struct {
	MinLength int

	FindByID       func(ctx context.Context, id string) (account.Account, error)
	AtomicUpdate   func(ctx context.Context, id string, mutate account.Mutator) (account.Account, error)
	VerifyPassword func(secret, encodedHash string) (bool, error)
	HashPassword   func(secret string) (string, error)

	MetricInc func(int)
	EmitAudit func(context.Context, AuditEntry)

	Metrics ChangePasswordMetrics
	Events  ChangePasswordEvents
	Errors  ChangePasswordErrors
}

// RunChangePassword replaces the credential after verifying the current one.
//
// A wrong current secret is not a login attempt and does not touch the lockout
// counter. If the credential changes between verification and commit, the update
// is refused.
func RunChangePassword(ctx context.Context, accountID, oldSecret, newSecret string, deps ChangePasswordDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.FindByID == nil || deps.AtomicUpdate == nil || deps.VerifyPassword == nil || deps.HashPassword == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(reason string, err error) error {
		deps.MetricInc(deps.Metrics.PasswordChangeFailure)
		deps.EmitAudit(ctx, AuditEntry{
			Event:     deps.Events.PasswordChangeFailed,
			AccountID: accountID,
			Reason:    reason,
			Err:       err,
		})
		return err
	}

	if oldSecret == "" || newSecret == "" {
		return fail("missing_fields", deps.Errors.PasswordPolicy)
	}
	if len(newSecret) < deps.MinLength {
		return fail("too_short", deps.Errors.PasswordPolicy)
	}

	acct, err := deps.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return fail("user_not_found", deps.Errors.AccountNotFound)
		}
		return err
	}
	if !acct.Active {
		return fail("user_inactive", deps.Errors.AccountInactive)
	}

	ok, err := deps.VerifyPassword(oldSecret, acct.CredentialHash)
	if err != nil || !ok {
		return fail("wrong_password", deps.Errors.InvalidCredentials)
	}
	if newSecret == oldSecret {
		return fail("password_reuse", deps.Errors.PasswordReuse)
	}

	newHash, err := deps.HashPassword(newSecret)
	if err != nil {
		return fail("hash_failed", deps.Errors.PasswordPolicy)
	}

	_, err = deps.AtomicUpdate(ctx, acct.ID, func(a *account.Account) error {
		if a.CredentialHash != acct.CredentialHash {
			return errConcurrentChange
		}
		a.CredentialHash = newHash
		return nil
	})
	switch {
	case errors.Is(err, errConcurrentChange):
		return fail("concurrent_change", deps.Errors.InvalidCredentials)
	case errors.Is(err, account.ErrNotFound):
		return fail("user_not_found", deps.Errors.AccountNotFound)
	case err != nil:
		return err
	}

	deps.MetricInc(deps.Metrics.PasswordChangeSuccess)
	deps.EmitAudit(ctx, AuditEntry{
		Event:     deps.Events.PasswordChanged,
		Success:   true,
		AccountID: acct.ID,
		LoginName: acct.LoginName,
	})
	return nil
}
