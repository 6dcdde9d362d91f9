package glidauth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	auditEventSessionCreated        = "session_created"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventMFARequired           = "mfa_required"
	auditEventOTPSent               = "otp_sent"
	auditEventOTPVerified           = "otp_verified"
	auditEventOTPFailure            = "otp_failure"
	auditEventAuthRefActivated      = "auth_ref_activated"
	auditEventAuthRefFailure        = "auth_ref_failure"
	auditEventMagicLinkSuccess      = "magic_link_success"
	auditEventMagicLinkFailure      = "magic_link_failure"
	auditEventExpiredChallenges     = "expired_challenges_logged"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventLogout                = "logout_session"
	auditEventCloseSession          = "close_session"
	auditEventCloseAll              = "close_all_sessions"
	auditEventSessionTimeout        = "session_timeout"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventPasswordChangeMFA     = "password_change_requires_mfa"
	auditEventPasswordReset         = "password_reset"
	auditEventPasswordDeleted       = "password_deleted"
	auditEventRecoveryRequest       = "recovery_request"
	auditEventRecoveryVerified      = "recovery_verified"
	auditEventRecoveryFailure       = "recovery_failure"
	auditEventGLIDReminder          = "glid_reminder"
	auditEventRegistrationStarted   = "registration_started"
	auditEventRegistrationVerify    = "registration_verify"
	auditEventRegistrationComplete  = "registration_complete"
	auditEventRegistrationFailure   = "registration_failure"
	auditEventPrelaunchRejected     = "prelaunch_rejected"
)

// AuditErrorCode is the stable, non-sensitive error label carried by audit
// events.
type AuditErrorCode string

const (
	auditErrUnauthorized         AuditErrorCode = "unauthorized"
	auditErrInvalidGLID          AuditErrorCode = "invalid_glid"
	auditErrInvalidSession       AuditErrorCode = "invalid_session"
	auditErrSessionTimeout       AuditErrorCode = "session_timeout"
	auditErrInvalidCredentials   AuditErrorCode = "invalid_credentials"
	auditErrPasswordPolicy       AuditErrorCode = "password_policy"
	auditErrPasswordReuse        AuditErrorCode = "password_reuse"
	auditErrNoTarget             AuditErrorCode = "no_verified_contact"
	auditErrMFAInvalid           AuditErrorCode = "mfa_invalid"
	auditErrOTPInvalid           AuditErrorCode = "otp_invalid"
	auditErrExpired              AuditErrorCode = "expired"
	auditErrLinkInvalid          AuditErrorCode = "link_invalid"
	auditErrVerificationInvalid  AuditErrorCode = "verification_invalid"
	auditErrCloseCurrent         AuditErrorCode = "close_current_session"
	auditErrDuplicate            AuditErrorCode = "duplicate"
	auditErrRegistrationInvalid  AuditErrorCode = "registration_invalid"
	auditErrRegistrationUnproven AuditErrorCode = "registration_incomplete"
	auditErrInvalidInput         AuditErrorCode = "invalid_input"
	auditErrUnavailable          AuditErrorCode = "backend_unavailable"
	auditErrInternal             AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["request_id"] = rid
	}

	event := AuditEvent{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrBackend):
		return auditErrUnavailable
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidGLID):
		return auditErrInvalidGLID
	case errors.Is(err, ErrInvalidSession),
		errors.Is(err, ErrSessionNotBound),
		errors.Is(err, ErrMissingSessionID):
		return auditErrInvalidSession
	case errors.Is(err, ErrSessionTimeout):
		return auditErrSessionTimeout
	case errors.Is(err, ErrInvalidPassword),
		errors.Is(err, ErrOldPasswordMismatch),
		errors.Is(err, ErrPasswordNotSet):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrNoVerifiedEmail),
		errors.Is(err, ErrNoVerifiedMobile):
		return auditErrNoTarget
	case errors.Is(err, ErrInvalidMFA),
		errors.Is(err, ErrInvalidMFAType),
		errors.Is(err, ErrInvalidLoginType):
		return auditErrMFAInvalid
	case errors.Is(err, ErrInvalidOTP):
		return auditErrOTPInvalid
	case errors.Is(err, ErrOTPExpired),
		errors.Is(err, ErrMFAExpired):
		return auditErrExpired
	case errors.Is(err, ErrInvalidLink):
		return auditErrLinkInvalid
	case errors.Is(err, ErrInvalidVerification):
		return auditErrVerificationInvalid
	case errors.Is(err, ErrCloseCurrentSession):
		return auditErrCloseCurrent
	case errors.Is(err, ErrGLIDUnavailable):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidRegistration),
		errors.Is(err, ErrInvalidContact):
		return auditErrRegistrationInvalid
	case errors.Is(err, ErrRegistrationIncomplete):
		return auditErrRegistrationUnproven
	case errors.Is(err, ErrMissingRefreshToken),
		errors.Is(err, ErrPrelaunchDisabled):
		return auditErrInvalidInput
	default:
		return auditErrInternal
	}
}
