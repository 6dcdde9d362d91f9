package session

import "time"

// State is the activation state of a session. The zero value is pending.
type State string

const (
	StatePending  State = ""
	StateActive   State = "Active"
	StateInactive State = "Inactive"
)

// AuthState tracks whether a user has been bound to the session.
type AuthState string

const (
	AuthUnidentified AuthState = "unidentified"
	AuthIdentified   AuthState = "identified"
	AuthPending      AuthState = "pending"
	AuthAbandoned    AuthState = "abandoned"
)

// Pre-authentication log values.
const (
	AttemptSuccess = "Success"
	AttemptFailure = "Failure"

	DetailIncorrectPassword = "Incorrect Password"
	DetailCodeExpired       = "2FA code expired"
	DetailDifferentUsername = "Different Username"
)

// PreAuth is one entry of the append-only pre-authentication log.
type PreAuth struct {
	Time    time.Time `json:"time"`
	Attempt string    `json:"attempt"`
	Details string    `json:"details,omitempty"`
}

// Meta is the client fingerprint captured at creation.
type Meta struct {
	IP         string
	Location   string
	Device     string
	SystemType string
}

// Session is one browser session.
type Session struct {
	ID         string
	UserID     string
	UserName   string
	GLID       string
	State      State
	AuthState  AuthState
	StartedAt  time.Time
	EndedAt    time.Time // zero while the session has not ended
	LastAccess int64     // unix seconds
	Meta       Meta
	PreAuth    []PreAuth
}

// Active reports whether the session is Active.
func (s *Session) Active() bool {
	return s != nil && s.State == StateActive
}

// Identified reports whether a user is bound to the session.
func (s *Session) Identified() bool {
	return s != nil && s.UserID != "" && s.AuthState == AuthIdentified
}

// Ended reports whether sessionEnd has been stamped.
func (s *Session) Ended() bool {
	return s != nil && !s.EndedAt.IsZero()
}

// TimedOut reports whether the inactivity window has elapsed at now.
func (s *Session) TimedOut(now time.Time, expirySeconds int64) bool {
	if s == nil {
		return true
	}
	return s.LastAccess+expirySeconds < now.Unix()
}
