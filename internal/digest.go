package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// TokenDigest returns the hex sha256 of a bearer token. Stores index tokens
// by digest so Redis keys never contain the token itself.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
