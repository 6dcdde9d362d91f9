package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB   uint32 = 8 * 1024
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
	minPassBytes         = 8
	maxPassBytes         = 1024
	algorithmID          = "argon2id"
)

var (
	// ErrTooShort is returned when a password is below the minimum length.
	ErrTooShort = errors.New("password must be at least 8 bytes")
	// ErrTooLong is returned when a password exceeds the maximum length.
	ErrTooLong = errors.New("password must be at most 1024 bytes")
	// ErrMalformedHash is returned when a stored hash is not a valid argon2id PHC string.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Hasher is what the engine needs from a password scheme.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2 hashes passwords as argon2id PHC strings.
type Argon2 struct {
	config Config
}

// params is the decoded form of a stored PHC string.
type params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password memory must be >= 8192 KB")
	case cfg.Time < 1:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password key length must be >= 16")
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a fresh salted hash. Passwords are used byte-for-byte.
func (a *Argon2) Hash(password string) (string, error) {
	if err := checkLength(password); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	p := params{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
	}
	p.key = argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, a.config.KeyLength)
	return p.encode(), nil
}

// Verify reports whether password matches encodedHash in constant time.
// An empty hash never matches.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if encodedHash == "" {
		return false, nil
	}
	p, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker parameters.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	return a.config.Memory > p.memory ||
		a.config.Time > p.time ||
		a.config.Parallelism > p.parallelism ||
		a.config.KeyLength != uint32(len(p.key)), nil
}

func checkLength(password string) error {
	if len(password) < minPassBytes {
		return ErrTooShort
	}
	if len(password) > maxPassBytes {
		return ErrTooLong
	}
	return nil
}

func (p params) encode() string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, p.memory, p.time, p.parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func decode(encoded string) (params, error) {
	var p params

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != algorithmID {
		return p, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, fmt.Errorf("%w: unsupported version", ErrMalformedHash)
	}

	var parallelism uint32
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &parallelism); err != nil {
		return p, fmt.Errorf("%w: bad parameters", ErrMalformedHash)
	}
	if p.memory < minMemoryKB || p.time < 1 || parallelism < 1 || parallelism > 255 {
		return p, fmt.Errorf("%w: parameters out of range", ErrMalformedHash)
	}
	p.parallelism = uint8(parallelism)

	salt, err := decodeSegment(fields[4])
	if err != nil || uint32(len(salt)) < minSaltLength {
		return p, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	key, err := decodeSegment(fields[5])
	if err != nil || len(key) == 0 {
		return p, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	p.salt, p.key = salt, key
	return p, nil
}

// decodeSegment accepts both padded and unpadded base64.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
