package authcore

import (
	"context"
	"time"

	"github.com/casework/authcore/account"
	internalflows "github.com/casework/authcore/internal/flows"
	"github.com/casework/authcore/jwt"
)

// Verify checks raw as a token of the expected kind: signature first, then expiry
// and kind, then the revocation store.
//
// It fails with ErrTokenMalformed, ErrTokenExpired, ErrWrongTokenKind, ErrTokenRevoked
// or ErrRevocationUnavailable. A revocation store that cannot answer rejects the token.
func (e *Engine) Verify(ctx context.Context, raw string, expected TokenKind) (*Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.verify(ctx, raw, expected)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricTokenRejected)
		e.emitFlowAudit(ctx, internalflows.AuditEntry{
			Event:  auditEventTokenRejected,
			Reason: string(auditErrorCode(err)),
			Err:    err,
			Metadata: func() map[string]string {
				return map[string]string{"expected_kind": string(expected)}
			},
		})
		return nil, err
	}
	return claims, nil
}

// Validate verifies an access token. It backs the verify-token endpoint and the
// HTTP guard.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*Claims, error) {
	return e.Verify(ctx, accessToken, TokenAccess)
}

func (e *Engine) verify(ctx context.Context, raw string, expected jwt.Kind) (*jwt.Claims, error) {
	return internalflows.RunVerify(ctx, raw, expected, e.verifyFlowDeps())
}

func (e *Engine) lookupRevocation(ctx context.Context, key string) (bool, error) {
	revoked, err := e.revocations.IsRevoked(ctx, key)
	if err != nil {
		e.metricInc(MetricRevocationStoreError)
		warnf("authcore: revocation lookup failed: %v", err)
		return false, err
	}
	return revoked, nil
}

func (e *Engine) verifyFlowDeps() internalflows.VerifyDeps {
	return internalflows.VerifyDeps{
		Parse:        e.tokens.Parse,
		IsRevoked:    e.lookupRevocation,
		CheckSession: true,
		Errors: internalflows.VerifyErrors{
			EngineNotReady:        ErrEngineNotReady,
			TokenMalformed:        ErrTokenMalformed,
			TokenExpired:          ErrTokenExpired,
			WrongTokenKind:        ErrWrongTokenKind,
			TokenRevoked:          ErrTokenRevoked,
			RevocationUnavailable: ErrRevocationUnavailable,
		},
	}
}

// Refresh exchanges a refresh token for a new access token in the same session.
// The refresh token is not rotated and stays valid until it expires or is revoked.
// A deleted account yields ErrInvalidCredentials and a deactivated one ErrAccountInactive.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res, err := internalflows.RunRefresh(ctx, refreshToken, internalflows.RefreshDeps{
		Verify:   e.verify,
		FindByID: e.directory.FindByID,
		IssueAccess: func(_ context.Context, acct account.Account, sid string) (string, *jwt.Claims, error) {
			return e.tokens.Issue(identityOf(acct, sid), jwt.KindAccess)
		},
		MetricInc: e.flowMetric,
		EmitAudit: e.emitFlowAudit,
		Metrics: internalflows.RefreshMetrics{
			RefreshSuccess: int(MetricRefreshSuccess),
			RefreshFailure: int(MetricRefreshFailure),
		},
		Events: internalflows.RefreshEvents{TokenRefresh: auditEventTokenRefresh},
		Errors: internalflows.RefreshErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			AccountInactive:    ErrAccountInactive,
		},
	})
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.Access.ExpiresAt.Time,
		SessionID:       res.Access.SID,
	}, nil
}

// Logout revokes exactly the presented access token. The refresh token issued with
// it stays valid; use [Engine.LogoutSession] to end both.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	return e.revoke(ctx, accessToken, jwt.KindAccess)
}

// RevokeRefresh revokes a refresh token on its own.
func (e *Engine) RevokeRefresh(ctx context.Context, refreshToken string) error {
	return e.revoke(ctx, refreshToken, jwt.KindRefresh)
}

// LogoutSession revokes the presented access token and every other token carrying
// its session id, including the refresh token from the same login.
func (e *Engine) LogoutSession(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := internalflows.RunRevokeSession(ctx, accessToken, e.revokeFlowDeps())
	return err
}

func (e *Engine) revoke(ctx context.Context, raw string, kind jwt.Kind) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := internalflows.RunRevoke(ctx, raw, kind, e.revokeFlowDeps())
	return err
}

func (e *Engine) storeRevocation(ctx context.Context, key string, expiresAt time.Time) error {
	if err := e.revocations.Revoke(ctx, key, expiresAt); err != nil {
		e.metricInc(MetricRevocationStoreError)
		warnf("authcore: revocation write failed: %v", err)
		return err
	}
	return nil
}

func (e *Engine) revokeFlowDeps() internalflows.RevokeDeps {
	return internalflows.RevokeDeps{
		Verify:     e.verifyFlowDeps(),
		Revoke:     e.storeRevocation,
		SessionTTL: e.tokens.TTL(jwt.KindAccess) + e.tokens.TTL(jwt.KindRefresh),
		MetricInc:  e.flowMetric,
		EmitAudit:  e.emitFlowAudit,
		Metrics: internalflows.RevokeMetrics{
			Logout:         int(MetricLogout),
			SessionRevoked: int(MetricSessionRevoked),
		},
		Events: internalflows.RevokeEvents{
			Logout:         auditEventLogout,
			SessionRevoked: auditEventSessionRevoked,
		},
		Errors: internalflows.RevokeErrors{
			EngineNotReady:        ErrEngineNotReady,
			RevocationUnavailable: ErrRevocationUnavailable,
		},
	}
}
