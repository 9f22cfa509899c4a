package jwt

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinKeyBytes is the shortest HMAC key accepted, matching the SHA-256 block output.
const MinKeyBytes = 32

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrMalformed covers structural problems, bad signatures, unknown keys and
	// claims that fail validation for any reason other than expiry.
	ErrMalformed = errors.New("token malformed")
	// ErrExpired is returned when the signature is valid but exp has passed.
	ErrExpired = errors.New("token expired")
	// ErrWrongKind is returned when a valid token of the other kind is presented.
	ErrWrongKind = errors.New("wrong token kind")
)

// Config holds signing material and token lifetimes.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	SigningKey []byte
	// KeyID is written to the kid header. When VerifyKeys is set it must be one of its keys.
	KeyID string
	// VerifyKeys maps kid to HMAC key. Tokens signed by a retired key keep verifying
	// while its entry stays here.
	VerifyKeys   map[string][]byte
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Identity is the subject data embedded in a token. It is produced from an account
// record once per issuance.
type Identity struct {
	Subject   string
	Role      string
	Name      string
	SessionID string
}

// Claims is the token payload.
type Claims struct {
	Kind Kind   `json:"typ"`
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	SID  string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens. It holds no mutable state and is safe for
// concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg. Every error it returns is a startup misconfiguration.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SigningKey) < MinKeyBytes {
		return nil, fmt.Errorf("signing key must be at least %d bytes", MinKeyBytes)
	}
	if cfg.AccessTTL < time.Second || cfg.RefreshTTL < time.Second {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < MinKeyBytes {
			return nil, fmt.Errorf("verify key for kid %q is shorter than %d bytes", kid, MinKeyBytes)
		}
	}
	if len(cfg.VerifyKeys) > 0 {
		if cfg.KeyID == "" {
			return nil, errors.New("KeyID is required when VerifyKeys is set")
		}
		current, ok := cfg.VerifyKeys[cfg.KeyID]
		if !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
		if !hmac.Equal(current, cfg.SigningKey) {
			return nil, errors.New("VerifyKeys[KeyID] must equal SigningKey")
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// TTL returns the configured lifetime for kind.
func (m *Manager) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return m.config.RefreshTTL
	}
	return m.config.AccessTTL
}

// Issue mints a signed token for id with a fresh jti. exp is exactly iat plus the
// TTL for kind; both are truncated to whole seconds as the wire format requires.
func (m *Manager) Issue(id Identity, kind Kind) (string, *Claims, error) {
	if kind != KindAccess && kind != KindRefresh {
		return "", nil, fmt.Errorf("unknown token kind %q", kind)
	}

	now := m.config.Now().Truncate(jwt.TimePrecision)
	claims := &Claims{
		Kind: kind,
		Role: id.Role,
		Name: id.Name,
		SID:  id.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.Subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.TTL(kind))),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.config.SigningKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse verifies raw and returns its claims.
//
// The signature is checked before any claim is read. Expiry is then enforced, and only
// a valid, unexpired token is compared against expected. Errors wrap ErrMalformed,
// ErrExpired or ErrWrongKind.
//
// A token is expired once now is after exp plus Leeway; at exactly exp it is still valid.
func (m *Manager) Parse(raw string, expected Kind) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// jwt/v5 accepts only now < exp, so the parser sees a clock 1ns behind.
		jwt.WithTimeFunc(m.parserNow),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(raw, &Claims{}, m.keyFunc)
	if err != nil {
		// jwt/v5 validates claims only after the signature checks out.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing jti or sub", ErrMalformed)
	}
	if claims.IssuedAt != nil && m.config.MaxFutureIAT > 0 {
		maxAllowed := m.config.Now().Add(m.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
		}
	}
	if claims.Kind != expected {
		return nil, ErrWrongKind
	}
	return claims, nil
}

func (m *Manager) parserNow() time.Time {
	return m.config.Now().Add(-time.Nanosecond)
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(m.config.VerifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	return m.config.SigningKey, nil
}
