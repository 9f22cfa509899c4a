package authcore

import (
	"time"

	"github.com/casework/authcore/account"
	"github.com/casework/authcore/jwt"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind = jwt.Kind

const (
	TokenAccess  TokenKind = jwt.KindAccess
	TokenRefresh TokenKind = jwt.KindRefresh
)

// Claims is the verified payload of a token. Subject is the account id.
type Claims = jwt.Claims

// TokenPair is issued by a successful login. Both tokens share SessionID.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// Profile is the public view of an account. It never carries the credential hash.
type Profile struct {
	ID          string       `json:"id"`
	LoginName   string       `json:"login_name"`
	DisplayName string       `json:"display_name,omitempty"`
	Role        account.Role `json:"role"`
	Active      bool         `json:"active"`
	LastLogin   *time.Time   `json:"last_login,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	Tokens  TokenPair
	Profile Profile
}

// RefreshResult is returned by [Engine.Refresh].
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	SessionID       string
}

func profileOf(a account.Account) Profile {
	p := Profile{
		ID:          a.ID,
		LoginName:   a.LoginName,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		Active:      a.Active,
		CreatedAt:   a.CreatedAt,
	}
	if a.LastLogin != nil {
		t := *a.LastLogin
		p.LastLogin = &t
	}
	return p
}

// identityOf is the single mapping from an account record to token claims.
func identityOf(a account.Account, sessionID string) jwt.Identity {
	return jwt.Identity{
		Subject:   a.ID,
		Role:      string(a.Role),
		Name:      a.DisplayName,
		SessionID: sessionID,
	}
}
