package authcore

import (
	"context"
	"errors"

	"github.com/casework/authcore/account"
	internalflows "github.com/casework/authcore/internal/flows"
	"github.com/casework/authcore/internal/lockout"
	"github.com/casework/authcore/internal/rate"
	"github.com/casework/authcore/jwt"
	"github.com/google/uuid"
)

// Login authenticates loginName and secret and issues an access/refresh pair that
// shares one session id.
//
// Unknown login names and wrong secrets both return ErrInvalidCredentials. A locked
// account returns a *LockedError (matching ErrAccountLocked) even when the secret is
// correct. The failed attempt that reaches the lockout threshold already returns
// *LockedError. The client IP from [WithClientIP] feeds the login rate limit.
func (e *Engine) Login(ctx context.Context, loginName, secret string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res, err := internalflows.RunLogin(ctx, loginName, secret, e.loginFlowDeps())
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Tokens: TokenPair{
			AccessToken:      res.Tokens.AccessToken,
			RefreshToken:     res.Tokens.RefreshToken,
			AccessExpiresAt:  res.Tokens.Access.ExpiresAt.Time,
			RefreshExpiresAt: res.Tokens.Refresh.ExpiresAt.Time,
			SessionID:        res.Tokens.Access.SID,
		},
		Profile: profileOf(res.Account),
	}, nil
}

func (e *Engine) loginFlowDeps() internalflows.LoginDeps {
	deps := internalflows.LoginDeps{
		Lockout: lockout.Policy{
			Threshold: e.config.Lockout.Threshold,
			Duration:  e.config.Lockout.Duration,
		},
		UpgradeOnLogin:      e.config.Password.UpgradeOnLogin,
		Now:                 e.now,
		ClientIPFromContext: clientIPFromContext,
		FindByLoginName:     e.directory.FindByLoginName,
		AtomicUpdate:        e.directory.AtomicUpdate,
		VerifyPassword:      e.hasher.Verify,
		Equalize:            e.hasher.Equalize,
		NeedsRehash:         e.hasher.NeedsRehash,
		HashPassword:        e.hasher.Hash,
		IssuePair:           e.issuePair,
		MetricInc:           e.flowMetric,
		EmitAudit:           e.emitFlowAudit,
		Warn:                warnf,
		Metrics: internalflows.LoginMetrics{
			LoginSuccess:     int(MetricLoginSuccess),
			LoginFailure:     int(MetricLoginFailure),
			LoginLocked:      int(MetricLoginLocked),
			LoginRateLimited: int(MetricLoginRateLimited),
			AccountLocked:    int(MetricAccountLocked),
			PasswordUpgraded: int(MetricPasswordUpgraded),
		},
		Events: internalflows.LoginEvents{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailed,
			AccountLocked:    auditEventAccountLocked,
			LoginRateLimited: auditEventLoginRateLimited,
		},
		Errors: internalflows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			AccountInactive:    ErrAccountInactive,
			LoginRateLimited:   ErrLoginRateLimited,
			Locked:             newLockedError,
		},
	}
	if e.limiter != nil {
		deps.AllowLogin = e.allowLogin
	}
	return deps
}

func (e *Engine) allowLogin(ctx context.Context, ip string) (bool, error) {
	err := e.limiter.AllowLogin(ctx, ip)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, rate.ErrRateLimited):
		return false, nil
	default:
		return false, err
	}
}

func (e *Engine) issuePair(_ context.Context, acct account.Account) (internalflows.TokenPair, error) {
	sid := uuid.NewString()
	id := identityOf(acct, sid)

	access, accessClaims, err := e.tokens.Issue(id, jwt.KindAccess)
	if err != nil {
		return internalflows.TokenPair{}, err
	}
	refresh, refreshClaims, err := e.tokens.Issue(id, jwt.KindRefresh)
	if err != nil {
		return internalflows.TokenPair{}, err
	}
	return internalflows.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		Access:       accessClaims,
		Refresh:      refreshClaims,
	}, nil
}
