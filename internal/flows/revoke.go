package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/casework/authcore/jwt"
)

type RevokeMetrics struct {
	Logout         int
	SessionRevoked int
}

type RevokeEvents struct {
	Logout         string
	SessionRevoked string
}

type RevokeErrors struct {
	EngineNotReady        error
	RevocationUnavailable error
}

// RevokeDeps captures logout dependencies.
type RevokeDeps struct {
	// Verify parses the token and reads its revocation state. Its Errors map
	// parse failures and store read failures.
	Verify VerifyDeps
	Revoke func(ctx context.Context, key string, expiresAt time.Time) error
	// SessionTTL is refresh TTL plus access TTL.
	SessionTTL time.Duration

	MetricInc func(int)
	EmitAudit func(context.Context, AuditEntry)

	Metrics RevokeMetrics
	Events  RevokeEvents
	Errors  RevokeErrors
}

func (d *RevokeDeps) ready() bool {
	if d.MetricInc == nil {
		d.MetricInc = noopMetric
	}
	if d.EmitAudit == nil {
		d.EmitAudit = noopAudit
	}
	return d.Verify.Parse != nil && d.Verify.IsRevoked != nil && d.Revoke != nil
}

// RunRevoke verifies raw as a token of kind and revokes exactly its jti. Sibling
// tokens from the same login stay valid.
//
// Revoking a token that is already revoked, by jti or by session, succeeds without
// writing to the store or emitting a second logout event.
func RunRevoke(ctx context.Context, raw string, kind jwt.Kind, deps RevokeDeps) (*jwt.Claims, error) {
	if !deps.ready() {
		return nil, deps.Errors.EngineNotReady
	}

	claims, err := parseClaims(raw, kind, deps.Verify)
	if err != nil {
		return nil, err
	}
	token, session, err := revocationState(ctx, claims, deps.Verify)
	if err != nil {
		return nil, err
	}
	if token || session {
		return claims, nil
	}

	if err := deps.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.RevocationUnavailable, err)
	}

	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, AuditEntry{
		Event:     deps.Events.Logout,
		Success:   true,
		AccountID: claims.Subject,
		SessionID: claims.SID,
		TokenID:   claims.ID,
		Metadata: func() map[string]string {
			return map[string]string{"token_kind": string(kind)}
		},
	})
	return claims, nil
}

// RunRevokeSession verifies an access token and revokes its jti and its whole
// session, which takes the refresh token issued at the same login with it. Keys
// already present are not rewritten; when both are, the call is a no-op.
func RunRevokeSession(ctx context.Context, raw string, deps RevokeDeps) (*jwt.Claims, error) {
	if !deps.ready() {
		return nil, deps.Errors.EngineNotReady
	}

	claims, err := parseClaims(raw, jwt.KindAccess, deps.Verify)
	if err != nil {
		return nil, err
	}
	tokenDone, err := isRevoked(ctx, claims.ID, deps.Verify)
	if err != nil {
		return nil, err
	}
	sessionDone := claims.SID == ""
	if !sessionDone {
		if sessionDone, err = isRevoked(ctx, SessionRevocationKey(claims.SID), deps.Verify); err != nil {
			return nil, err
		}
	}
	if tokenDone && sessionDone {
		return claims, nil
	}

	if !tokenDone {
		if err := deps.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.RevocationUnavailable, err)
		}
	}
	if !sessionDone {
		// The session started at or before iat, so every token in it expires by
		// iat + refresh TTL + access TTL, which is what SessionTTL holds.
		base := claims.ExpiresAt.Time
		if claims.IssuedAt != nil {
			base = claims.IssuedAt.Time
		}
		sessionExp := base.Add(deps.SessionTTL)
		if err := deps.Revoke(ctx, SessionRevocationKey(claims.SID), sessionExp); err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.RevocationUnavailable, err)
		}
	}

	deps.MetricInc(deps.Metrics.SessionRevoked)
	deps.EmitAudit(ctx, AuditEntry{
		Event:     deps.Events.SessionRevoked,
		Success:   true,
		AccountID: claims.Subject,
		SessionID: claims.SID,
		TokenID:   claims.ID,
	})
	return claims, nil
}
