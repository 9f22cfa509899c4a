package authcore

import (
	"context"
	"errors"

	internalaudit "github.com/casework/authcore/internal/audit"
	internalflows "github.com/casework/authcore/internal/flows"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailed          = "login_failed"
	auditEventAccountLocked        = "account_locked"
	auditEventAccountUnlocked      = "account_unlocked"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventLogout               = "logout"
	auditEventSessionRevoked       = "session_revoked"
	auditEventTokenRefresh         = "token_refresh"
	auditEventTokenRejected        = "token_rejected"
	auditEventPasswordChanged      = "password_changed"
	auditEventPasswordChangeFailed = "password_change_failed"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrTokenMalformed     AuditErrorCode = "token_malformed"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrWrongTokenKind     AuditErrorCode = "wrong_token_kind"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// emitFlowAudit stamps a flow entry with the clock and client IP and hands it to the
// dispatcher. The metadata builder only runs when auditing is enabled.
func (e *Engine) emitFlowAudit(ctx context.Context, entry internalflows.AuditEntry) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if entry.Metadata != nil {
		metadata = entry.Metadata()
	}

	event := internalaudit.Event{
		Timestamp: e.now().UTC(),
		EventType: entry.Event,
		AccountID: entry.AccountID,
		LoginName: entry.LoginName,
		SessionID: entry.SessionID,
		TokenID:   entry.TokenID,
		IP:        clientIPFromContext(ctx),
		Success:   entry.Success,
		Reason:    entry.Reason,
		Metadata:  metadata,
	}
	if code := auditErrorCode(entry.Err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenMalformed):
		return auditErrTokenMalformed
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrWrongTokenKind):
		return auditErrWrongTokenKind
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrRevocationUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
