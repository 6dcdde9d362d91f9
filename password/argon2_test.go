package password

import (
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T) *Argon2 {
	t.Helper()
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return hasher
}

func TestHashAndVerify(t *testing.T) {
	hasher := newTestHasher(t)

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail: ok=%v err=%v", ok, err)
	}
}

func TestVerifyEmptyHashNeverMatches(t *testing.T) {
	hasher := newTestHasher(t)
	ok, err := hasher.Verify("anything-at-all", "")
	if err != nil || ok {
		t.Fatalf("expected empty hash to be a non-match, ok=%v err=%v", ok, err)
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	hasher := newTestHasher(t)
	hash, err := hasher.Hash("padding-check")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	p, err := decode(hash)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 16-byte salt and 32-byte key both need padding in std encoding.
	fields := strings.Split(hash, "$")
	fields[4] = strings.TrimRight(fields[4], "=") + "=="
	fields[5] = fields[5] + "="
	padded := strings.Join(fields, "$")
	if len(p.salt) != 16 {
		t.Fatalf("unexpected salt length %d", len(p.salt))
	}
	ok, err := hasher.Verify("padding-check", padded)
	if err != nil || !ok {
		t.Fatalf("expected padded hash to verify: ok=%v err=%v", ok, err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := newTestHasher(t)
	hash, err := weak.Hash("upgrade-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	strongCfg := fastConfig()
	strongCfg.Time = 2
	strong, err := NewArgon2(strongCfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if up, err := strong.NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("expected upgrade for weaker hash: up=%v err=%v", up, err)
	}
	if up, err := weak.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("expected no upgrade for current params: up=%v err=%v", up, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher := newTestHasher(t)
	hash, _ := hasher.Hash("version-test")

	cases := []string{
		"not-a-phc-hash",
		strings.Replace(hash, "$v=19$", "$v=18$", 1),
		strings.Replace(hash, "argon2id", "argon2i", 1),
		strings.Replace(hash, "m=8192", "m=10", 1),
	}
	for _, c := range cases {
		if _, err := hasher.Verify("version-test", c); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("expected ErrMalformedHash for %q, got %v", c, err)
		}
	}
}

func TestHashLengthBounds(t *testing.T) {
	hasher := newTestHasher(t)

	if _, err := hasher.Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", maxPassBytes+1)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("b", maxPassBytes)); err != nil {
		t.Fatalf("expected max length password to hash: %v", err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	cfg = fastConfig()
	cfg.SaltLength = 8
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}
