package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/casework/authcore"
	"github.com/casework/authcore/account"
	"github.com/casework/authcore/metrics/export/prometheus"
	"github.com/casework/authcore/middleware"
	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

// Every credential failure gets this body so callers cannot tell the causes apart.
const invalidCredentialsMessage = "invalid credentials"

type healthCheck func(ctx context.Context) error

type server struct {
	engine     *authcore.Engine
	logger     *Logger
	checks     map[string]healthCheck
	trustProxy bool
	now        func() time.Time
}

func newServer(engine *authcore.Engine, logger *Logger, checks map[string]healthCheck) *server {
	return &server{engine: engine, logger: logger, checks: checks, now: time.Now}
}

func (s *server) routes() http.Handler {
	guard := middleware.Guard(s.engine)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("POST /api/auth/refresh", s.refresh)
	mux.HandleFunc("POST /api/auth/verify-token", s.verifyToken)
	mux.Handle("POST /api/auth/logout", guard(http.HandlerFunc(s.logout)))
	mux.Handle("POST /api/auth/logout-session", guard(http.HandlerFunc(s.logoutSession)))
	mux.Handle("GET /api/auth/me", guard(http.HandlerFunc(s.me)))
	mux.Handle("POST /api/auth/change-password", guard(http.HandlerFunc(s.changePassword)))
	mux.Handle("POST /api/admin/accounts/{id}/unlock",
		guard(middleware.RequireRole(account.RoleAdmin)(http.HandlerFunc(s.unlock))))
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", prometheus.NewPrometheusExporter(s.engine).Handler())

	return recoverPanics(s.logger, requestLogging(s.logger, s.trustProxy, mux))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken      string           `json:"access_token"`
	RefreshToken     string           `json:"refresh_token"`
	TokenType        string           `json:"token_type"`
	ExpiresIn        int64            `json:"expires_in"`
	RefreshExpiresIn int64            `json:"refresh_expires_in"`
	SessionID        string           `json:"session_id"`
	User             authcore.Profile `json:"user"`
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Email) == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := s.engine.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if d, ok := authcore.RetryAfter(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d)))
			writeError(w, http.StatusLocked, "account temporarily locked")
			return
		}
		switch {
		case errors.Is(err, authcore.ErrInvalidCredentials), errors.Is(err, authcore.ErrAccountInactive):
			writeError(w, http.StatusUnauthorized, invalidCredentialsMessage)
		case errors.Is(err, authcore.ErrLoginRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
		default:
			s.internalError(w, "login_failed", err)
		}
		return
	}

	now := s.now()
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		TokenType:        "bearer",
		ExpiresIn:        secondsUntil(res.Tokens.AccessExpiresAt, now),
		RefreshExpiresIn: secondsUntil(res.Tokens.RefreshExpiresAt, now),
		SessionID:        res.Tokens.SessionID,
		User:             res.Profile,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body.RefreshToken = strings.TrimSpace(body.RefreshToken)
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	res, err := s.engine.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.tokenError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": res.AccessToken,
		"token_type":   "bearer",
		"expires_in":   secondsUntil(res.AccessExpiresAt, s.now()),
		"session_id":   res.SessionID,
	})
}

type verifyRequest struct {
	Token string `json:"token"`
}

// verifyToken reports whether an access token is currently accepted. The token may
// come in the body or as a bearer header.
func (s *server) verifyToken(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		var body verifyRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		token = strings.TrimSpace(body.Token)
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	claims, err := s.engine.Validate(r.Context(), token)
	if err != nil {
		if errors.Is(err, authcore.ErrRevocationUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "token status unavailable")
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"user_id":    claims.Subject,
		"role":       claims.Role,
		"session_id": claims.SID,
		"expires_at": claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// logout revokes the presented access token and, when given, the refresh token.
func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r.Header.Get("Authorization"))

	var body logoutRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}

	if err := s.engine.Logout(r.Context(), token); err != nil {
		s.tokenError(w, err)
		return
	}
	if rt := strings.TrimSpace(body.RefreshToken); rt != "" {
		err := s.engine.RevokeRefresh(r.Context(), rt)
		if err != nil && !errors.Is(err, authcore.ErrTokenRevoked) {
			s.tokenError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *server) logoutSession(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	if err := s.engine.LogoutSession(r.Context(), token); err != nil {
		s.tokenError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session ended"})
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	profile, err := s.engine.Account(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, authcore.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.internalError(w, "account_lookup_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *server) changePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.CurrentPassword == "" || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}
	if body.NewPassword != body.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "password confirmation does not match")
		return
	}

	err := s.engine.ChangePassword(r.Context(), claims.Subject, body.CurrentPassword, body.NewPassword)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
	case errors.Is(err, authcore.ErrPasswordPolicy):
		writeError(w, http.StatusBadRequest, "new password does not meet the policy")
	case errors.Is(err, authcore.ErrPasswordReuse):
		writeError(w, http.StatusBadRequest, "new password must differ from the current one")
	case errors.Is(err, authcore.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
	case errors.Is(err, authcore.ErrAccountInactive), errors.Is(err, authcore.ErrAccountNotFound):
		writeError(w, http.StatusUnauthorized, invalidCredentialsMessage)
	default:
		s.internalError(w, "change_password_failed", err)
	}
}

func (s *server) unlock(w http.ResponseWriter, r *http.Request) {
	err := s.engine.UnlockAccount(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, authcore.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	default:
		s.internalError(w, "unlock_failed", err)
	}
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			components[name] = "down"
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": components,
		"time":       s.now().UTC().Format(time.RFC3339),
	})
}

// tokenError maps verification and revocation failures. A store outage is a 503;
// everything else is a plain 401.
func (s *server) tokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authcore.ErrRevocationUnavailable):
		s.logger.Error("revocation_store_unavailable", map[string]any{"error": err.Error()})
		writeError(w, http.StatusServiceUnavailable, "token status unavailable")
	case errors.Is(err, authcore.ErrEngineNotReady):
		s.internalError(w, "engine_not_ready", err)
	default:
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	}
}

func (s *server) internalError(w http.ResponseWriter, message string, err error) {
	sentry.CaptureException(err)
	s.logger.Error(message, map[string]any{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func secondsUntil(t, now time.Time) int64 {
	secs := int64(t.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}
