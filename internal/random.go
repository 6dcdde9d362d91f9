package internal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const magicLinkSessionSize = 16

// NewGUID returns a random (v4) uuid string for sessions, authentications,
// and challenges.
func NewGUID() string {
	return uuid.NewString()
}

// NewMagicLinkSession returns an opaque hex correlator for a magic link.
func NewMagicLinkSession() (string, error) {
	var raw [magicLinkSessionSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// NewOTP returns a uniformly distributed numeric code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
