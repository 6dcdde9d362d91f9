package glidauth

import "errors"

// ErrorKind classifies engine failures for transport mapping.
type ErrorKind uint8

const (
	// KindInternal marks persistence or programming failures.
	KindInternal ErrorKind = iota
	// KindInvalidInput marks malformed or unknown references from the caller.
	KindInvalidInput
	// KindUnauthorized marks credential and token failures.
	KindUnauthorized
	// KindConflict marks requests that contradict the caller's own state.
	KindConflict
	// KindExpired marks challenges and sessions past their window.
	KindExpired
)

// String returns the lower-case kind label used in audit metadata.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindExpired:
		return "expired"
	default:
		return "internal"
	}
}

// AuthError is the engine's client-facing failure. Reason is safe to show
// to end users; callers compare with errors.Is against the exported values.
type AuthError struct {
	Kind   ErrorKind
	Reason string
}

func (e *AuthError) Error() string {
	return e.Reason
}

func newAuthError(kind ErrorKind, reason string) *AuthError {
	return &AuthError{Kind: kind, Reason: reason}
}

var (
	// ErrInvalidGLID is returned when no master user or profile matches a GLID.
	ErrInvalidGLID = newAuthError(KindInvalidInput, "Invalid GLID")
	// ErrInvalidSession is returned for unknown, inactive, or unauthenticated sessions.
	ErrInvalidSession = newAuthError(KindInvalidInput, "Invalid session")
	// ErrSessionTimeout is returned when a session exceeded its inactivity window.
	ErrSessionTimeout = newAuthError(KindUnauthorized, "Session timeout")
	// ErrInvalidPassword is returned when the presented password does not match.
	ErrInvalidPassword = newAuthError(KindUnauthorized, "Invalid password")
	// ErrInvalidMFAType is returned for an unknown MFA delivery mode.
	ErrInvalidMFAType = newAuthError(KindInvalidInput, "Invalid MFA type")
	// ErrInvalidLoginType is returned for an unknown verification channel.
	ErrInvalidLoginType = newAuthError(KindInvalidInput, "Invalid login type")
	// ErrNoVerifiedEmail is returned when an email challenge has no target.
	ErrNoVerifiedEmail = newAuthError(KindInvalidInput, "No verified Email found")
	// ErrNoVerifiedMobile is returned when a mobile challenge has no target.
	ErrNoVerifiedMobile = newAuthError(KindInvalidInput, "No verified mobile number found")
	// ErrInvalidMFA is returned for unknown challenges or channels already verified.
	ErrInvalidMFA = newAuthError(KindInvalidInput, "Invalid MFA")
	// ErrInvalidOTP is returned when a code does not match the challenge.
	ErrInvalidOTP = newAuthError(KindUnauthorized, "Invalid OTP")
	// ErrOTPExpired is returned when a code is submitted after the challenge window.
	ErrOTPExpired = newAuthError(KindExpired, "OTP expired")
	// ErrMFAExpired is returned when a magic link is followed after the challenge window.
	ErrMFAExpired = newAuthError(KindExpired, "MFA expired")
	// ErrInvalidLink is returned for malformed or already consumed magic links.
	ErrInvalidLink = newAuthError(KindInvalidInput, "Invalid Link")
	// ErrInvalidVerification is returned when an auth ref is unknown or not pending.
	ErrInvalidVerification = newAuthError(KindInvalidInput, "invalid verification")
	// ErrSessionNotBound is returned when a pending auth ref has no identified session.
	ErrSessionNotBound = newAuthError(KindInvalidInput, "invalid session")
	// ErrCloseCurrentSession is returned when a caller targets its own session.
	ErrCloseCurrentSession = newAuthError(KindConflict, "you can't close current session")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = newAuthError(KindInvalidInput, "New password must be different from old password")
	// ErrOldPasswordMismatch is returned when the old password does not match.
	ErrOldPasswordMismatch = newAuthError(KindUnauthorized, "Old password is incorrect")
	// ErrPasswordPolicy is returned when a new password is outside the accepted length.
	ErrPasswordPolicy = newAuthError(KindInvalidInput, "Password must be between 8 and 1024 characters")
	// ErrPasswordNotSet is returned when a password operation needs an existing hash.
	ErrPasswordNotSet = newAuthError(KindInvalidInput, "Password not set")
	// ErrMissingSessionID is returned when a request carries no session id.
	ErrMissingSessionID = newAuthError(KindInvalidInput, "Session id is required")
	// ErrMissingRefreshToken is returned when refresh is called without a token.
	ErrMissingRefreshToken = newAuthError(KindInvalidInput, "Refresh token is required")
	// ErrUnauthorized is returned by the authorization gate.
	ErrUnauthorized = newAuthError(KindUnauthorized, "Unauthorized")
	// ErrGLIDUnavailable is returned when a registration targets a taken GLID.
	ErrGLIDUnavailable = newAuthError(KindConflict, "Glid is Not available")
	// ErrInvalidRegistration is returned for malformed registration requests.
	ErrInvalidRegistration = newAuthError(KindInvalidInput, "Invalid registration request")
	// ErrRegistrationIncomplete is returned when a registration still has unverified channels.
	ErrRegistrationIncomplete = newAuthError(KindInvalidInput, "Registration is not verified")
	// ErrInvalidContact is returned when a GLID recovery contact is malformed or unknown.
	ErrInvalidContact = newAuthError(KindInvalidInput, "Invalid contact")
	// ErrPrelaunchDisabled is returned when no prelaunch password is configured.
	ErrPrelaunchDisabled = newAuthError(KindInvalidInput, "Prelaunch gate disabled")
	// ErrBackend wraps persistence failures.
	ErrBackend = newAuthError(KindInternal, "Internal server error")
	// ErrEngineNotReady is returned by a nil or unbuilt engine.
	ErrEngineNotReady = newAuthError(KindInternal, "engine not initialized")
)

// KindOf reports the classification of err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindInternal
}

// PublicMessage returns the message safe to render for err.
func PublicMessage(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return ErrBackend.Reason
}
