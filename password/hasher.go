package password

import (
	"errors"
	"fmt"
	"strings"
)

// Scheme identifies the algorithm that produced a stored hash.
type Scheme string

const (
	SchemeArgon2id Scheme = "argon2id"
	SchemeBcrypt   Scheme = "bcrypt"
	SchemeUnknown  Scheme = ""
)

// Identify inspects the encoded prefix of a stored hash.
func Identify(encoded string) Scheme {
	switch {
	case strings.HasPrefix(encoded, "$"+algorithmID+"$"):
		return SchemeArgon2id
	case isBcrypt(encoded):
		return SchemeBcrypt
	default:
		return SchemeUnknown
	}
}

// HasherConfig selects the scheme used for new hashes and its parameters.
type HasherConfig struct {
	Algorithm  Scheme
	Argon2     Config
	BcryptCost int
}

// Hasher hashes with the configured scheme and verifies any supported scheme.
//
// Hashes written by older deployments (bcrypt) keep verifying; [Hasher.NeedsRehash]
// flags them so the caller can replace them after a successful login.
type Hasher struct {
	primary Scheme
	argon   *Argon2
	bcrypt  *Bcrypt
	dummy   string
}

// NewHasher builds a Hasher and precomputes the hash used by [Hasher.Equalize].
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	if cfg.Algorithm == SchemeUnknown {
		cfg.Algorithm = SchemeArgon2id
	}
	if cfg.Algorithm != SchemeArgon2id && cfg.Algorithm != SchemeBcrypt {
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}

	argon, err := NewArgon2(cfg.Argon2)
	if err != nil {
		return nil, err
	}
	bc, err := NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	h := &Hasher{primary: cfg.Algorithm, argon: argon, bcrypt: bc}
	h.dummy, err = h.Hash("authcore-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Algorithm returns the scheme used for new hashes.
func (h *Hasher) Algorithm() Scheme { return h.primary }

// Hash hashes password with the primary scheme.
func (h *Hasher) Hash(password string) (string, error) {
	if h.primary == SchemeBcrypt {
		return h.bcrypt.Hash(password)
	}
	return h.argon.Hash(password)
}

// Verify reports whether password matches encodedHash. A malformed or unrecognized
// hash yields an error wrapping ErrMalformedHash; callers treat it as a mismatch.
func (h *Hasher) Verify(password string, encodedHash string) (bool, error) {
	switch Identify(encodedHash) {
	case SchemeArgon2id:
		ok, err := h.argon.Verify(password, encodedHash)
		if errors.Is(err, ErrPasswordTooLong) {
			return false, nil
		}
		return ok, err
	case SchemeBcrypt:
		return h.bcrypt.Verify(password, encodedHash)
	default:
		return false, fmt.Errorf("%w: unrecognized scheme", ErrMalformedHash)
	}
}

// NeedsRehash reports whether encodedHash should be replaced by a fresh primary hash,
// either because it uses another scheme or weaker parameters.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	scheme := Identify(encodedHash)
	if scheme != h.primary {
		return true
	}
	var (
		upgrade bool
		err     error
	)
	if scheme == SchemeBcrypt {
		upgrade, err = h.bcrypt.NeedsUpgrade(encodedHash)
	} else {
		upgrade, err = h.argon.NeedsUpgrade(encodedHash)
	}
	return err == nil && upgrade
}

// Equalize performs one verification against a fixed hash and discards the result.
// Used when the login name is unknown so the response takes as long as a real check.
func (h *Hasher) Equalize(password string) {
	_, _ = h.Verify(password, h.dummy)
}
