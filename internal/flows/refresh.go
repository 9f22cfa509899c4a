package flows

import (
	"context"
	"errors"

	"github.com/casework/authcore/account"
	"github.com/casework/authcore/jwt"
)

// RefreshResult is the flow-local refresh response shape.
type RefreshResult struct {
	AccessToken string
	Access      *jwt.Claims
	Account     account.Account
}

type RefreshMetrics struct {
	RefreshSuccess int
	RefreshFailure int
}

type RefreshEvents struct {
	TokenRefresh string
}

type RefreshErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountInactive    error
}

// RefreshDeps captures refresh dependencies.
type RefreshDeps struct {
	// Verify is RunVerify bound to the engine's VerifyDeps.
	Verify      func(ctx context.Context, raw string, expected jwt.Kind) (*jwt.Claims, error)
	FindByID    func(ctx context.Context, id string) (account.Account, error)
	IssueAccess func(ctx context.Context, acct account.Account, sessionID string) (string, *jwt.Claims, error)

	MetricInc func(int)
	EmitAudit func(context.Context, AuditEntry)

	Metrics RefreshMetrics
	Events  RefreshEvents
	Errors  RefreshErrors
}

// RunRefresh exchanges a valid refresh token for a new access token in the same
// session. The account is re-read so deactivation and deletion take effect.
// The refresh token itself is not rotated.
func RunRefresh(ctx context.Context, raw string, deps RefreshDeps) (*RefreshResult, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Verify == nil || deps.FindByID == nil || deps.IssueAccess == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(claims *jwt.Claims, reason string, err error) error {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		entry := AuditEntry{Event: deps.Events.TokenRefresh, Reason: reason, Err: err}
		if claims != nil {
			entry.AccountID = claims.Subject
			entry.SessionID = claims.SID
			entry.TokenID = claims.ID
		}
		deps.EmitAudit(ctx, entry)
		return err
	}

	claims, err := deps.Verify(ctx, raw, jwt.KindRefresh)
	if err != nil {
		return nil, fail(nil, "invalid_refresh_token", err)
	}

	acct, err := deps.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, fail(claims, "user_not_found", deps.Errors.InvalidCredentials)
		}
		return nil, err
	}
	if !acct.Active {
		return nil, fail(claims, "user_inactive", deps.Errors.AccountInactive)
	}

	access, accessClaims, err := deps.IssueAccess(ctx, acct, claims.SID)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	deps.EmitAudit(ctx, AuditEntry{
		Event:     deps.Events.TokenRefresh,
		Success:   true,
		AccountID: acct.ID,
		SessionID: claims.SID,
		TokenID:   accessClaims.ID,
		Metadata: func() map[string]string {
			return map[string]string{"refresh_token_id": claims.ID}
		},
	})
	return &RefreshResult{AccessToken: access, Access: accessClaims, Account: acct}, nil
}
