package authcore

import (
	"context"
	"errors"

	"github.com/casework/authcore/account"
	internalflows "github.com/casework/authcore/internal/flows"
)

// ChangePassword replaces the credential of accountID after checking oldSecret.
//
// A wrong oldSecret returns ErrInvalidCredentials but is not counted toward lockout.
// newSecret must be at least Password.MinLength bytes and differ from oldSecret.
// Tokens already issued stay valid.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldSecret, newSecret string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	return internalflows.RunChangePassword(ctx, accountID, oldSecret, newSecret, internalflows.ChangePasswordDeps{
		MinLength:      e.config.Password.MinLength,
		FindByID:       e.directory.FindByID,
		AtomicUpdate:   e.directory.AtomicUpdate,
		VerifyPassword: e.hasher.Verify,
		HashPassword:   e.hasher.Hash,
		MetricInc:      e.flowMetric,
		EmitAudit:      e.emitFlowAudit,
		Metrics: internalflows.ChangePasswordMetrics{
			PasswordChangeSuccess: int(MetricPasswordChangeSuccess),
			PasswordChangeFailure: int(MetricPasswordChangeFailure),
		},
		Events: internalflows.ChangePasswordEvents{
			PasswordChanged:      auditEventPasswordChanged,
			PasswordChangeFailed: auditEventPasswordChangeFailed,
		},
		Errors: internalflows.ChangePasswordErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			AccountInactive:    ErrAccountInactive,
			AccountNotFound:    ErrAccountNotFound,
			PasswordPolicy:     ErrPasswordPolicy,
			PasswordReuse:      ErrPasswordReuse,
		},
	})
}

// UnlockAccount clears the failed-attempt counter and any active lockout.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	return internalflows.RunUnlock(ctx, accountID, internalflows.UnlockDeps{
		AtomicUpdate:    e.directory.AtomicUpdate,
		MetricInc:       e.flowMetric,
		EmitAudit:       e.emitFlowAudit,
		UnlockMetric:    int(MetricAccountUnlocked),
		UnlockedEvent:   auditEventAccountUnlocked,
		EngineNotReady:  ErrEngineNotReady,
		AccountNotFound: ErrAccountNotFound,
	})
}

// Account returns the public profile of accountID.
func (e *Engine) Account(ctx context.Context, accountID string) (Profile, error) {
	if !e.ready() {
		return Profile{}, ErrEngineNotReady
	}

	acct, err := e.directory.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return Profile{}, ErrAccountNotFound
		}
		return Profile{}, err
	}
	return profileOf(acct), nil
}
