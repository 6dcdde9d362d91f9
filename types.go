package glidauth

import (
	"strings"
	"time"
)

// Channel is the contact kind a challenge is bound to.
type Channel string

const (
	// ChannelEmail routes a challenge to the user's primary email.
	ChannelEmail Channel = "email"
	// ChannelMobile routes a challenge to the user's primary phone.
	ChannelMobile Channel = "mobile"
)

// Delivery is how a mobile challenge reaches the user.
type Delivery string

const (
	// DeliveryEmail is the only delivery of an email challenge.
	DeliveryEmail Delivery = "email"
	// DeliverySMS sends the code as a text message.
	DeliverySMS Delivery = "sms"
	// DeliveryCall reads the code out in a phone call.
	DeliveryCall Delivery = "call"
)

// ParseMFAMode maps the wire "type" of an OTP request to a channel and delivery.
// Accepted values are email, message (or phone), and call.
func ParseMFAMode(mode string) (Channel, Delivery, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "email":
		return ChannelEmail, DeliveryEmail, nil
	case "message", "phone", "sms", "mobile":
		return ChannelMobile, DeliverySMS, nil
	case "call":
		return ChannelMobile, DeliveryCall, nil
	default:
		return "", "", ErrInvalidMFAType
	}
}

// ParseLoginType maps the wire authType of an OTP verification to a channel.
func ParseLoginType(authType string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(authType)) {
	case "email":
		return ChannelEmail, nil
	case "mobile", "phonecall", "phone_call", "call", "message":
		return ChannelMobile, nil
	default:
		return "", ErrInvalidLoginType
	}
}

// parseLinkMode maps the magic link mode query value (e|p) to a channel.
func parseLinkMode(mode string) (Channel, bool) {
	switch mode {
	case "e":
		return ChannelEmail, true
	case "p":
		return ChannelMobile, true
	default:
		return "", false
	}
}

// AuthStatus is the lifecycle state of an Authentication record.
type AuthStatus uint8

const (
	AuthCreated            AuthStatus = 1
	AuthActivated          AuthStatus = 2
	AuthLoggedOut          AuthStatus = 3
	AuthSessionClosed      AuthStatus = 4
	AuthExpired            AuthStatus = 5
	AuthExpiredWithFailure AuthStatus = 6
)

// Terminal reports whether the status ends an Authentication.
func (s AuthStatus) Terminal() bool {
	return s >= AuthLoggedOut
}

func (s AuthStatus) String() string {
	switch s {
	case AuthCreated:
		return "CREATED"
	case AuthActivated:
		return "ACTIVATED"
	case AuthLoggedOut:
		return "LOG_OUT"
	case AuthSessionClosed:
		return "CLOSE_SESSION"
	case AuthExpired:
		return "EXPIRED"
	case AuthExpiredWithFailure:
		return "EXPIRED_WITH_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// SessionMeta is the client fingerprint recorded when a session is created.
type SessionMeta struct {
	IP         string
	Location   string
	Device     string
	SystemType string
}

// PreAuthAttempt is one entry of a session's pre-authentication log.
type PreAuthAttempt struct {
	Time    time.Time `json:"time"`
	Attempt string    `json:"attempt"`
	Details string    `json:"details,omitempty"`
}

// SessionView is the read model of a session returned to callers.
type SessionView struct {
	ID                  string           `json:"guid"`
	UserID              string           `json:"userId,omitempty"`
	UserName            string           `json:"userName,omitempty"`
	GLID                string           `json:"glid,omitempty"`
	State               string           `json:"sessionState"`
	AuthenticationState string           `json:"authenticationState"`
	Start               time.Time        `json:"sessionStart"`
	End                 *time.Time       `json:"sessionEnd,omitempty"`
	LastAccess          int64            `json:"lastAccessTime"`
	IP                  string           `json:"ipAddress,omitempty"`
	Location            string           `json:"location,omitempty"`
	Device              string           `json:"device,omitempty"`
	SystemType          string           `json:"systemType,omitempty"`
	PreAuthentications  []PreAuthAttempt `json:"preAuthentications,omitempty"`
}

// CreateSessionResult reports the session bound to a browser.
type CreateSessionResult struct {
	SessionID string `json:"sessionId"`
	Reused    bool   `json:"-"`
}

// Authentication is the token-bearing record of a session.
type Authentication struct {
	ID           string     `json:"guid"`
	SessionID    string     `json:"session_id"`
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	Status       AuthStatus `json:"status"`
}

// TokenPair is a freshly minted access/refresh pair.
type TokenPair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	AccessExpiresIn  int64  `json:"accessTokenExpiresIn"`
	RefreshExpiresIn int64  `json:"refreshTokenExpiresIn"`
}

// LoginResult is the outcome of a password login.
type LoginResult struct {
	Status          string     `json:"status"`
	RequiredMFAAuth bool       `json:"requiredMFAauth"`
	VerifiedMFAs    []Channel  `json:"verifiedMFAs,omitempty"`
	AuthID          string     `json:"guid,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	Tokens          *TokenPair `json:"tokens,omitempty"`
}

// ChallengeTicket identifies an issued challenge to the client.
type ChallengeTicket struct {
	ID        string    `json:"guid"`
	ExpiresAt time.Time `json:"exp"`
	Reused    bool      `json:"-"`
}

// AuthRef is returned once a login challenge is verified.
type AuthRef struct {
	Ref string `json:"ref"`
}

// ActivationResult is returned when a session becomes active.
type ActivationResult struct {
	Status    string     `json:"status"`
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId"`
	AuthID    string     `json:"authId"`
	Tokens    *TokenPair `json:"tokens,omitempty"`
}

// InitialAuth carries the tokens of an activated session.
type InitialAuth struct {
	SessionID    string `json:"session_id"`
	AuthID       string `json:"guid"`
	UserID       string `json:"userId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SessionState is the polling view of a session's activation.
type SessionState struct {
	State      string `json:"state"`
	Ref        string `json:"ref,omitempty"`
	LastAccess int64  `json:"lastAccessTime,omitempty"`
}

// ChallengeStatus reports per-channel verification progress.
type ChallengeStatus struct {
	EmailRequested  bool      `json:"didUserOptMail"`
	MobileRequested bool      `json:"didUserOptMobile"`
	EmailVerified   bool      `json:"isEmailVerified"`
	MobileVerified  bool      `json:"isMobileVerified"`
	Completed       bool      `json:"isFlowCompleted"`
	Expired         bool      `json:"isExpired"`
	ExpiresAt       time.Time `json:"expiryDateTime"`
	LinkExpired     bool      `json:"isMagicLinkExpired"`
	InvalidOTP      bool      `json:"isInvalidOTP,omitempty"`
}

// StatusResult is a bare status acknowledgement.
type StatusResult struct {
	Status string `json:"status"`
	Ref    string `json:"ref,omitempty"`
}

// PasswordFlow reports whether a GLID can log in with a password.
type PasswordFlow struct {
	HasPassword bool `json:"hasPassword"`
}

// RegistrationRequest starts a new account.
type RegistrationRequest struct {
	SessionID   string
	GLID        string
	Name        string
	Location    string
	Email       string
	Mobile      string
	DialCode    string
	CountryCode string
	Language    string
}

// RouteMode selects how the authorization gate treats a request.
type RouteMode uint8

const (
	// RoutePublic resolves the session if present and never rejects.
	RoutePublic RouteMode = iota
	// RouteStandard resolves and touches the session but does not require a token.
	RouteStandard
	// RouteRestricted requires a valid access token and a live session.
	RouteRestricted
	// RouteNoTouch resolves the session id without touching the session.
	RouteNoTouch
)

// AuthResult is what the authorization gate attaches to a request.
type AuthResult struct {
	SessionID string
	UserID    string
	UserName  string
	TimedOut  bool
	Touched   bool
}
