package authcore

import (
	"fmt"
	"strings"
	"time"

	"github.com/casework/authcore/password"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is a setting that is valid but probably not what a deployment wants.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list produced by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above floor.
func (r LintResult) BySeverity(floor LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= floor {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds the warnings at or above floor into one error, or returns nil.
func (r LintResult) AsError(floor LintSeverity) error {
	hits := r.BySeverity(floor)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, 0, len(hits))
	for _, w := range hits {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

// Lint reports risky but valid settings. It never fails; run Validate for hard errors.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		add("refresh_shorter_than_access", LintHigh,
			"RefreshTTL %s is shorter than AccessTTL %s", c.JWT.RefreshTTL, c.JWT.AccessTTL)
	}
	if c.JWT.AccessTTL > time.Hour {
		add("access_ttl_long", LintInfo,
			"AccessTTL %s keeps a stolen access token usable for a long time", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "RefreshTTL %s exceeds 30 days", c.JWT.RefreshTTL)
	}
	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "Leeway %s accepts expired tokens for over a minute", c.JWT.Leeway)
	}
	if c.Lockout.Threshold > 10 {
		add("lockout_lenient", LintWarn,
			"Lockout Threshold %d allows many guesses per window", c.Lockout.Threshold)
	}
	if c.Security.LoginRateLimit == 0 {
		add("rate_limits_disabled", LintInfo, "per-IP login rate limit is disabled")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "security events are not recorded")
	}
	if password.Scheme(c.Password.Algorithm) == password.SchemeBcrypt {
		add("bcrypt_primary", LintWarn, "new credentials are hashed with bcrypt instead of argon2id")
	}
	if password.Scheme(c.Password.Algorithm) == password.SchemeArgon2id && c.Password.Memory < 19*1024 {
		add("argon2_memory_low", LintWarn, "Argon2 Memory %d KB is below 19 MiB", c.Password.Memory)
	}

	return ws
}
