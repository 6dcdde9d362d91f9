package internal

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewOTPDigitsOnly(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := NewOTP(6)
		if err != nil {
			t.Fatalf("NewOTP: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("unexpected length %d", len(code))
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in %q", code)
			}
		}
	}
	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected short otp to be rejected")
	}
}

func TestNewGUIDIsUUID(t *testing.T) {
	id := NewGUID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected uuid, got %q: %v", id, err)
	}
}

func TestMagicLinkSessionsAreUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		s, err := NewMagicLinkSession()
		if err != nil {
			t.Fatalf("NewMagicLinkSession: %v", err)
		}
		if len(s) != 2*magicLinkSessionSize {
			t.Fatalf("unexpected length %d", len(s))
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate magic link session %s", s)
		}
		seen[s] = struct{}{}
	}
}

func TestTokenDigestStable(t *testing.T) {
	if TokenDigest("abc") != TokenDigest("abc") {
		t.Fatal("digest must be deterministic")
	}
	if TokenDigest("abc") == TokenDigest("abd") {
		t.Fatal("digest must differ for different tokens")
	}
}
