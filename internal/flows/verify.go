package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/casework/authcore/jwt"
)

// SessionRevocationKey is the registry key under which a whole login session is
// revoked. jtis are UUIDs, so the prefix cannot collide with a token id.
func SessionRevocationKey(sid string) string {
	return "sid:" + sid
}

// VerifyErrors carries host-level sentinel errors used by the verify flow.
type VerifyErrors struct {
	EngineNotReady        error
	TokenMalformed        error
	TokenExpired          error
	WrongTokenKind        error
	TokenRevoked          error
	RevocationUnavailable error
}

// VerifyDeps captures token verification dependencies.
type VerifyDeps struct {
	Parse     func(raw string, expected jwt.Kind) (*jwt.Claims, error)
	IsRevoked func(ctx context.Context, key string) (bool, error)
	// CheckSession also consults the session key so LogoutSession takes effect.
	CheckSession bool
	Errors       VerifyErrors
}

// RunVerify checks signature, expiry and kind, then revocation. Nothing from the
// token is trusted until Parse has verified the signature. A revocation store error
// rejects the token.
func RunVerify(ctx context.Context, raw string, expected jwt.Kind, deps VerifyDeps) (*jwt.Claims, error) {
	if deps.Parse == nil || deps.IsRevoked == nil {
		return nil, deps.Errors.EngineNotReady
	}

	claims, err := parseClaims(raw, expected, deps)
	if err != nil {
		return nil, err
	}
	token, session, err := revocationState(ctx, claims, deps)
	if err != nil {
		return nil, err
	}
	if token || session {
		return nil, deps.Errors.TokenRevoked
	}
	return claims, nil
}

func parseClaims(raw string, expected jwt.Kind, deps VerifyDeps) (*jwt.Claims, error) {
	claims, err := deps.Parse(raw, expected)
	if err == nil {
		return claims, nil
	}
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return nil, deps.Errors.TokenExpired
	case errors.Is(err, jwt.ErrWrongKind):
		return nil, deps.Errors.WrongTokenKind
	default:
		return nil, deps.Errors.TokenMalformed
	}
}

// revocationState reports whether the jti and, with CheckSession, the session of
// claims are revoked. The session key is not read once the jti is known revoked.
func revocationState(ctx context.Context, claims *jwt.Claims, deps VerifyDeps) (token, session bool, err error) {
	if token, err = isRevoked(ctx, claims.ID, deps); err != nil || token {
		return token, false, err
	}
	if !deps.CheckSession || claims.SID == "" {
		return false, false, nil
	}
	session, err = isRevoked(ctx, SessionRevocationKey(claims.SID), deps)
	return false, session, err
}

func isRevoked(ctx context.Context, key string, deps VerifyDeps) (bool, error) {
	revoked, err := deps.IsRevoked(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", deps.Errors.RevocationUnavailable, err)
	}
	return revoked, nil
}
