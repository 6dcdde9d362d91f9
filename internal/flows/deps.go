package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/notify"
	"github.com/MrEthical07/glidauth/password"
	"github.com/MrEthical07/glidauth/session"
)

// Failure classifies flow failures for root-level mapping.
type Failure int

const (
	FailureNone Failure = iota
	FailureBackend
	FailureInvalidGLID
	FailureInvalidSession
	FailureSessionTimeout
	FailureInvalidPassword
	FailurePasswordPolicy
	FailurePasswordReuse
	FailureOldPasswordMismatch
	FailurePasswordNotSet
	FailureNoVerifiedEmail
	FailureNoVerifiedMobile
	FailureInvalidMFA
	FailureInvalidOTP
	FailureOTPExpired
	FailureMFAExpired
	FailureInvalidLink
	FailureInvalidVerification
	FailureSessionNotBound
	FailureCloseCurrentSession
	FailureUnauthorized
	FailureGLIDUnavailable
	FailureInvalidRegistration
	FailureRegistrationIncomplete
	FailureInvalidContact
)

// SessionStore is the session persistence the flows use.
type SessionStore interface {
	CreateUnidentified(ctx context.Context, meta session.Meta) (*session.Session, error)
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	Identify(ctx context.Context, sessionID, userID, userName, glid string) error
	Activate(ctx context.Context, sessionID string) error
	Touch(ctx context.Context, sessionID string) error
	PushPreAuth(ctx context.Context, sessionID string, entry session.PreAuth) error
	ActiveForUser(ctx context.Context, userID, excluding string) ([]string, error)
	Key(sessionID string) string
	TimedOut(sess *session.Session) bool
}

// AuthenticationStore is the per-session credential persistence.
type AuthenticationStore interface {
	CreateOrRenew(ctx context.Context, sessionID string) (*stores.Authentication, error)
	Get(ctx context.Context, guid string) (*stores.Authentication, error)
	GetBySession(ctx context.Context, sessionID string) (*stores.Authentication, error)
	GetByAccessToken(ctx context.Context, token string) (*stores.Authentication, error)
	Activate(ctx context.Context, guid, access, refresh string) error
	RotateRefresh(ctx context.Context, sessionID, presented, access, refresh string) (string, error)
	End(ctx context.Context, mode stores.EndMode, sessionKey, sessionID string, status int) error
	FailPending(ctx context.Context, sessionID string) (bool, error)
}

// ChallengeStore is the OTP/MFA ledger.
type ChallengeStore interface {
	Issue(ctx context.Context, req stores.IssueRequest) (*stores.Issued, error)
	Get(ctx context.Context, id string) (*stores.Challenge, error)
	VerifyCode(ctx context.Context, id, code, channel string) error
	VerifyLink(ctx context.Context, id, channel string) error
	VerifyAnyCode(ctx context.Context, id, code string) (string, error)
	ResolveMagicLinkSession(ctx context.Context, mls string) (string, error)
	ForSession(ctx context.Context, sessionID string) ([]*stores.Challenge, error)
	MarkExpiryLogged(ctx context.Context, id string) (bool, error)
	Window() time.Duration
}

// RegistrationStore keeps sign-ups until their contacts are verified.
type RegistrationStore interface {
	Save(ctx context.Context, reg *stores.Registration) error
	Get(ctx context.Context, challengeID string) (*stores.Registration, error)
	Delete(ctx context.Context, challengeID string) error
}

// TokenIssuer mints and parses access and refresh tokens.
type TokenIssuer interface {
	Mint(id jwt.Identity, kind jwt.Kind) (jwt.Token, error)
	Parse(token string, kind jwt.Kind) (*jwt.Claims, error)
}

// Deps is built once by the engine and shared by every flow.
type Deps struct {
	Sessions      SessionStore
	Auths         AuthenticationStore
	Challenges    ChallengeStore
	Registrations RegistrationStore
	Directory     directory.Directory
	Tokens        TokenIssuer
	Hasher        password.Hasher

	// Notify queues a message; it never reports delivery failures.
	Notify func(ctx context.Context, msg notify.Message)
	Warn   func(msg string, args ...any)
	Now    func() time.Time

	LinkBase string
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d Deps) warn(msg string, args ...any) {
	if d.Warn != nil {
		d.Warn(msg, args...)
	}
}

func (d Deps) notify(ctx context.Context, msg notify.Message) {
	if d.Notify != nil {
		d.Notify(ctx, msg)
	}
}

// Tokens is a freshly minted pair.
type Tokens struct {
	Access  jwt.Token
	Refresh jwt.Token
}

func (d Deps) mintPair(id jwt.Identity) (Tokens, error) {
	access, err := d.Tokens.Mint(id, jwt.KindAccess)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := d.Tokens.Mint(id, jwt.KindRefresh)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Access: access, Refresh: refresh}, nil
}
