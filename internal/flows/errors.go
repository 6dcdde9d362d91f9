package flows

import "errors"

// Flow-local causes. The root package maps Failure values to its public
// errors; these only travel in Err for logs and audit metadata.
var (
	errPasswordNotSet      = errors.New("password not set")
	errPasswordMismatch    = errors.New("password mismatch")
	errPasswordReuse       = errors.New("new password equals old password")
	errNoTarget            = errors.New("no verified contact for channel")
	errForeignChallenge    = errors.New("challenge belongs to another session or user")
	errAuthNotPending      = errors.New("authentication is not pending")
	errAuthNotCurrent      = errors.New("authentication is not the session's current one")
	errSessionNotBound     = errors.New("session is not bound to a user")
	errUnverifiedLogin     = errors.New("no verified login challenge for session")
	errInvalidLink         = errors.New("invalid magic link")
	errCloseCurrent        = errors.New("target is the current session")
	errSubjectMismatch     = errors.New("token subject does not own the session")
	errMissingToken        = errors.New("missing bearer token")
	errInvalidContact      = errors.New("invalid contact")
	errInvalidRegistration = errors.New("invalid registration")
	errIncomplete          = errors.New("registration has unverified channels")
)
