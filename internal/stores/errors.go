package stores

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

var (
	// ErrRedisUnavailable wraps every backend failure in this package.
	ErrRedisUnavailable = errors.New("redis unavailable")

	ErrAuthNotFound       = errors.New("authentication not found")
	ErrAuthTerminal       = errors.New("authentication already ended")
	ErrAuthNotActivated   = errors.New("authentication not activated")
	ErrRefreshMismatch    = errors.New("refresh token mismatch")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionNotActive   = errors.New("session not active")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeUsed      = errors.New("challenge channel already verified")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrChallengeMismatch  = errors.New("challenge code mismatch")
	ErrRegistrationAbsent = errors.New("pending registration not found")
)

func backendErr(domain, op string, err error) error {
	return oops.In(domain).
		Code("REDIS_UNAVAILABLE").
		With("operation", op).
		Wrap(fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
}
