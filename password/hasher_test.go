package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastHasherConfig(alg Scheme) HasherConfig {
	return HasherConfig{
		Algorithm: alg,
		Argon2: Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		BcryptCost: bcrypt.MinCost,
	}
}

func TestIdentify(t *testing.T) {
	cases := map[string]Scheme{
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA": SchemeArgon2id,
		"$2a$04$abcdefghijklmnopqrstuu":                 SchemeBcrypt,
		"$2b$12$abcdefghijklmnopqrstuu":                 SchemeBcrypt,
		"$2y$10$abcdefghijklmnopqrstuu":                 SchemeBcrypt,
		"plaintext":                                     SchemeUnknown,
		"":                                              SchemeUnknown,
	}
	for in, want := range cases {
		if got := Identify(in); got != want {
			t.Fatalf("Identify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	h, err := NewHasher(fastHasherConfig(SchemeArgon2id))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("senha123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := h.Verify("senha123", string(legacy))
	if err != nil || !ok {
		t.Fatalf("legacy verify: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong", string(legacy))
	if err != nil || ok {
		t.Fatalf("legacy wrong verify: ok=%v err=%v", ok, err)
	}
	if !h.NeedsRehash(string(legacy)) {
		t.Fatal("bcrypt hash should need rehash when argon2id is primary")
	}
}

func TestHasherPrimaryHashNeedsNoRehash(t *testing.T) {
	h, err := NewHasher(fastHasherConfig(SchemeArgon2id))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if Identify(hash) != SchemeArgon2id {
		t.Fatalf("unexpected scheme for %s", hash)
	}
	if h.NeedsRehash(hash) {
		t.Fatal("fresh primary hash should not need rehash")
	}
}

func TestHasherBcryptPrimary(t *testing.T) {
	h, err := NewHasher(fastHasherConfig(SchemeBcrypt))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	hash, err := h.Hash("abcdef")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Fatalf("expected bcrypt hash, got %s", hash)
	}
	if ok, err := h.Verify("abcdef", hash); err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	if h.NeedsRehash(hash) {
		t.Fatal("fresh bcrypt hash should not need rehash")
	}
}

func TestHasherRejectsUnknownScheme(t *testing.T) {
	h, err := NewHasher(fastHasherConfig(SchemeArgon2id))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	ok, err := h.Verify("x", "md5:abcdef")
	if ok || !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected malformed error, got ok=%v err=%v", ok, err)
	}
}

func TestHasherOverlongSecretIsMismatch(t *testing.T) {
	h, err := NewHasher(fastHasherConfig(SchemeArgon2id))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	hash, err := h.Hash("short-secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := h.Verify(strings.Repeat("z", DefaultMaxPasswordBytes+1), hash)
	if ok || err != nil {
		t.Fatalf("expected plain mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestNewHasherRejectsUnknownAlgorithm(t *testing.T) {
	cfg := fastHasherConfig("scrypt")
	if _, err := NewHasher(cfg); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
}

func TestNewBcryptCostBounds(t *testing.T) {
	if _, err := NewBcrypt(bcrypt.MaxCost + 1); err == nil {
		t.Fatal("expected cost bound error")
	}
	b, err := NewBcrypt(0)
	if err != nil {
		t.Fatalf("NewBcrypt(0): %v", err)
	}
	if b.cost != bcrypt.DefaultCost {
		t.Fatalf("cost=%d", b.cost)
	}
}
