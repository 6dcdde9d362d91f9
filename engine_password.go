package glidauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/glidauth/internal/flows"
)

// ChangePassword replaces the password of userID after checking the old
// one. Users with a verified contact get {status:"change with MFA"} and are
// expected to go through SendRecoveryOTP; nothing is changed for them.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (*StatusResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := flows.RunChangePassword(ctx, userID, oldPassword, newPassword, e.deps)
	if err := e.flowError(ctx, "change password", res.Failure, res.Err); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", err, nil)
		return nil, err
	}

	if res.Status == flows.StatusChangeWithMFA {
		e.emitAudit(ctx, auditEventPasswordChangeMFA, true, userID, "", nil, nil)
		return &StatusResult{Status: res.Status}, nil
	}
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, "", nil, nil)
	return &StatusResult{Status: res.Status}, nil
}

// ResetPassword sets a new password for userID without the old one. Call it
// only on a session activated through VerifyRecoveryOTP.
func (e *Engine) ResetPassword(ctx context.Context, userID, newPassword string) (*StatusResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := flows.RunResetPassword(ctx, userID, newPassword, e.deps)
	err := e.flowError(ctx, "reset password", res.Failure, res.Err)
	e.emitAudit(ctx, auditEventPasswordReset, err == nil, userID, "", err, nil)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricPasswordReset)
	return &StatusResult{Status: res.Status}, nil
}

// DeletePassword clears the password hash so the account can only sign in
// with a second factor.
func (e *Engine) DeletePassword(ctx context.Context, userID string) (*StatusResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := flows.RunDeletePassword(ctx, userID, e.deps)
	err := e.flowError(ctx, "delete password", res.Failure, res.Err)
	e.emitAudit(ctx, auditEventPasswordDeleted, err == nil, userID, "", err, nil)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricPasswordDeleted)
	return &StatusResult{Status: res.Status}, nil
}

// SendRecoveryOTP issues a forgot-password challenge for glid over mode.
func (e *Engine) SendRecoveryOTP(ctx context.Context, sessionID, glid, mode string) (*ChallengeTicket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	channel, delivery, err := ParseMFAMode(mode)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	res := flows.RunSendRecoveryOTP(ctx, flows.SendOTPRequest{
		SessionID: sessionID,
		GLID:      glid,
		Channel:   string(channel),
		Delivery:  string(delivery),
	}, e.deps)
	err = e.flowError(ctx, "send recovery otp", res.Failure, res.Err)
	e.emitAudit(ctx, auditEventRecoveryRequest, err == nil, res.UserID, sessionID, err, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})
	if err != nil {
		return nil, err
	}
	if !res.Reused {
		e.metricInc(MetricRecoveryRequested)
	}
	return challengeTicket(res), nil
}

// VerifyRecoveryOTP consumes a recovery code and activates the session,
// returning {status:"verified", ref} together with the new tokens.
func (e *Engine) VerifyRecoveryOTP(ctx context.Context, sessionID, glid, challengeID, otp string) (*ActivationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	res := flows.RunVerifyRecoveryOTP(ctx, flows.VerifyOTPRequest{
		SessionID:   sessionID,
		GLID:        glid,
		ChallengeID: challengeID,
		Code:        otp,
	}, e.deps)
	if err := e.flowError(ctx, "verify recovery otp", res.Failure, res.Err); err != nil {
		if errors.Is(err, ErrOTPExpired) {
			e.metricInc(MetricOTPExpired)
		}
		e.metricInc(MetricRecoveryFailure)
		e.emitAudit(ctx, auditEventRecoveryFailure, false, res.UserID, sessionID, err, nil)
		return nil, err
	}

	e.metricInc(MetricRecoverySuccess)
	e.metricInc(MetricSessionActivated)
	e.emitAudit(ctx, auditEventRecoveryVerified, true, res.UserID, sessionID, nil, nil)
	return activationResult(flows.StatusVerified, res), nil
}

// RecoverGLID sends the GLID owning a verified email or phone back to it.
// dialCode is only used for phones and defaults to the user's own.
func (e *Engine) RecoverGLID(ctx context.Context, sessionID string, channel Channel, value, dialCode string) (*ChallengeTicket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if channel != ChannelEmail && channel != ChannelMobile {
		return nil, ErrInvalidMFAType
	}
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	res := flows.RunRecoverGLID(ctx, flows.RecoverGLIDRequest{
		SessionID: sessionID,
		Channel:   string(channel),
		Value:     value,
		DialCode:  dialCode,
	}, e.deps)
	err := e.flowError(ctx, "recover glid", res.Failure, res.Err)
	e.emitAudit(ctx, auditEventGLIDReminder, err == nil, res.UserID, sessionID, err, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})
	if err != nil {
		return nil, err
	}
	if !res.Reused {
		e.metricInc(MetricGLIDReminderSent)
	}
	return challengeTicket(res), nil
}
