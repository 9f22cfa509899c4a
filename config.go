package authcore

import (
	"strings"
	"time"

	"github.com/casework/authcore/password"
)

// Config holds every engine setting.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT        JWTConfig
	Lockout    LockoutConfig
	Password   PasswordConfig
	Revocation RevocationConfig
	Security   SecurityConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing and lifetimes. Only HS256 is supported.
type JWTConfig struct {
	SigningKey []byte
	// KeyID is written to the kid header. Required when VerifyKeys is set.
	KeyID string
	// VerifyKeys maps kid to key for rotation. VerifyKeys[KeyID] must equal SigningKey.
	VerifyKeys map[string][]byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures the failed-attempt lockout.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures credential hashing.
type PasswordConfig struct {
	Algorithm string // "argon2id" (default) or "bcrypt"
	Memory    uint32 // in KB
	Time      uint32
	// Parallelism is the argon2 lane count.
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	BcryptCost     int
	MinLength      int
	UpgradeOnLogin bool
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig configures the revocation store built by the Builder.
type RevocationConfig struct {
	RedisPrefix string
	// SweepInterval drives the in-memory janitor. Zero disables it; inserts still sweep.
	SweepInterval time.Duration
	SweepEvery    int
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds request throttling settings.
type SecurityConfig struct {
	// LoginRateLimit is the number of login attempts allowed per client IP per
	// LoginRateWindow. Zero disables the limiter.
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the security event dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Synchronous delivers events on the request goroutine. Tests use it.
	Synchronous bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline settings. SigningKey is left empty and must be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:     "authcore",
			AccessTTL:  24 * time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		Password: PasswordConfig{
			Algorithm:      string(password.SchemeArgon2id),
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			BcryptCost:     12,
			MinLength:      6,
			UpgradeOnLogin: true,
		},
		Revocation: RevocationConfig{
			RedisPrefix:   "rvk",
			SweepInterval: time.Minute,
			SweepEvery:    256,
		},
		Security: SecurityConfig{
			LoginRateLimit:  0,
			LoginRateWindow: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.SigningKey = cloneBytes(cfg.JWT.SigningKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c PasswordConfig) hasherConfig() password.HasherConfig {
	return password.HasherConfig{
		Algorithm: password.Scheme(c.Algorithm),
		Argon2: password.Config{
			Memory:      c.Memory,
			Time:        c.Time,
			Parallelism: c.Parallelism,
			SaltLength:  c.SaltLength,
			KeyLength:   c.KeyLength,
		},
		BcryptCost: c.BcryptCost,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting. Every error wraps ErrConfiguration.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.SigningKey) == 0 {
		return configErr("JWT SigningKey is required")
	}
	if len(c.JWT.SigningKey) < 32 {
		return configErr("JWT SigningKey must be at least 32 bytes")
	}
	if c.JWT.AccessTTL < time.Second {
		return configErr("JWT AccessTTL must be >= 1s")
	}
	if c.JWT.RefreshTTL < time.Second {
		return configErr("JWT RefreshTTL must be >= 1s")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return configErr("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Issuer != strings.TrimSpace(c.JWT.Issuer) {
		return configErr("JWT Issuer must not carry surrounding whitespace")
	}
	if len(c.JWT.VerifyKeys) > 0 && strings.TrimSpace(c.JWT.KeyID) == "" {
		return configErr("JWT KeyID is required when VerifyKeys is set")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return configErr("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return configErr("Lockout Duration must be > 0")
	}

	// Password
	switch password.Scheme(c.Password.Algorithm) {
	case password.SchemeArgon2id, password.SchemeBcrypt:
	default:
		return configErr("Password Algorithm must be 'argon2id' or 'bcrypt'")
	}
	if c.Password.Memory < 8*1024 {
		return configErr("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return configErr("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return configErr("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return configErr("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return configErr("Password KeyLength must be >= 16")
	}
	if c.Password.BcryptCost != 0 && (c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31) {
		return configErr("Password BcryptCost must be between 4 and 31")
	}
	if c.Password.MinLength < 1 {
		return configErr("Password MinLength must be >= 1")
	}

	// Revocation
	if strings.TrimSpace(c.Revocation.RedisPrefix) == "" {
		return configErr("Revocation RedisPrefix must not be empty")
	}
	if c.Revocation.SweepInterval < 0 {
		return configErr("Revocation SweepInterval must be >= 0")
	}
	if c.Revocation.SweepEvery < 0 {
		return configErr("Revocation SweepEvery must be >= 0")
	}

	// Security
	if c.Security.LoginRateLimit < 0 {
		return configErr("Security LoginRateLimit must be >= 0")
	}
	if c.Security.LoginRateLimit > 0 && c.Security.LoginRateWindow <= 0 {
		return configErr("Security LoginRateWindow must be > 0 when LoginRateLimit is set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return configErr("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
