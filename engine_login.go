package glidauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/glidauth/internal/flows"
)

const statusSuccess = "success"

// Login verifies glid and password on sessionID. Users without a verified
// contact are activated immediately and receive tokens. Everyone else gets
// RequiredMFAAuth and the channels to send a code to; the authentication
// stays Created until a second factor is verified.
func (e *Engine) Login(ctx context.Context, sessionID, glid, password string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	res := flows.RunLogin(ctx, sessionID, glid, password, e.deps)
	if err := e.flowError(ctx, "login", res.Failure, res.Err); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, res.UserID, sessionID, err, nil)
		return nil, err
	}

	out := &LoginResult{
		Status:          statusSuccess,
		RequiredMFAAuth: res.RequiresMFA,
		SessionID:       sessionID,
	}
	if res.RequiresMFA {
		out.VerifiedMFAs = make([]Channel, len(res.Channels))
		for i, c := range res.Channels {
			out.VerifiedMFAs[i] = Channel(c)
		}
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, res.UserID, sessionID, nil, nil)
		return out, nil
	}

	out.AuthID = res.AuthID
	out.Tokens = tokenPair(res.Tokens)
	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionActivated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, res.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"method": "password"}
	})
	return out, nil
}

// SendLoginOTP issues a login challenge for glid over mode (email, message
// or call) and queues its delivery. Repeating the request while the
// challenge is live returns the same challenge without sending it again.
func (e *Engine) SendLoginOTP(ctx context.Context, sessionID, glid, mode string) (*ChallengeTicket, error) {
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

	res := flows.RunSendLoginOTP(ctx, flows.SendOTPRequest{
		SessionID: sessionID,
		GLID:      glid,
		Channel:   string(channel),
		Delivery:  string(delivery),
	}, e.deps)
	if err := e.flowError(ctx, "send login otp", res.Failure, res.Err); err != nil {
		e.emitAudit(ctx, auditEventOTPSent, false, res.UserID, sessionID, err, nil)
		return nil, err
	}

	if !res.Reused {
		e.metricInc(MetricOTPSent)
	}
	e.emitAudit(ctx, auditEventOTPSent, true, res.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"channel": string(channel), "delivery": string(delivery), "challenge_id": res.ChallengeID}
	})
	return challengeTicket(res), nil
}

// VerifyLoginOTP consumes a login code. The returned ref is exchanged for
// an active session through VerifyLoginAuthRef.
func (e *Engine) VerifyLoginOTP(ctx context.Context, sessionID, glid, challengeID, otp, authType string) (*AuthRef, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	channel, err := ParseLoginType(authType)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	res := flows.RunVerifyLoginOTP(ctx, flows.VerifyOTPRequest{
		SessionID:   sessionID,
		GLID:        glid,
		ChallengeID: challengeID,
		Code:        otp,
		Channel:     string(channel),
	}, e.deps)
	if err := e.flowError(ctx, "verify login otp", res.Failure, res.Err); err != nil {
		if errors.Is(err, ErrOTPExpired) {
			e.metricInc(MetricOTPExpired)
		}
		e.metricInc(MetricOTPFailure)
		e.emitAudit(ctx, auditEventOTPFailure, false, res.UserID, sessionID, err, nil)
		return nil, err
	}

	e.metricInc(MetricOTPVerified)
	e.emitAudit(ctx, auditEventOTPVerified, true, res.UserID, sessionID, nil, nil)
	return &AuthRef{Ref: res.Ref}, nil
}

// VerifyLoginAuthRef activates the pending authentication ref once its
// login challenge has been verified.
func (e *Engine) VerifyLoginAuthRef(ctx context.Context, ref string) (*ActivationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if ref == "" {
		return nil, ErrInvalidVerification
	}

	res := flows.RunVerifyAuthRef(ctx, ref, e.deps)
	if err := e.flowError(ctx, "verify auth ref", res.Failure, res.Err); err != nil {
		e.emitAudit(ctx, auditEventAuthRefFailure, false, res.UserID, res.SessionID, err, nil)
		return nil, err
	}

	e.metricInc(MetricSessionActivated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventAuthRefActivated, true, res.UserID, res.SessionID, nil, func() map[string]string {
		return map[string]string{"method": "otp"}
	})
	return activationResult(statusSuccess, res), nil
}

// VerifyLoginMagicLink activates a session from a followed login link.
// mode is "e" for the email link and "p" for the phone link. A link works
// once.
func (e *Engine) VerifyLoginMagicLink(ctx context.Context, ref, challengeID, mode string) (*ActivationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	channel, ok := parseLinkMode(mode)
	if !ok || ref == "" || challengeID == "" {
		e.metricInc(MetricMagicLinkFailure)
		return nil, ErrInvalidLink
	}

	res := flows.RunVerifyMagicLink(ctx, flows.MagicLinkRequest{
		Ref:         ref,
		ChallengeID: challengeID,
		Channel:     string(channel),
	}, e.deps)
	if err := e.flowError(ctx, "verify magic link", res.Failure, res.Err); err != nil {
		e.metricInc(MetricMagicLinkFailure)
		e.emitAudit(ctx, auditEventMagicLinkFailure, false, res.UserID, res.SessionID, err, nil)
		return nil, err
	}

	e.metricInc(MetricMagicLinkSuccess)
	e.metricInc(MetricSessionActivated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventMagicLinkSuccess, true, res.UserID, res.SessionID, nil, func() map[string]string {
		return map[string]string{"method": "magic_link", "channel": string(channel)}
	})
	return activationResult(statusSuccess, res), nil
}

// InitialAuth hands the tokens of an activated ref to the session that
// owns it, typically after SessionState reported it Active.
func (e *Engine) InitialAuth(ctx context.Context, sessionID, ref string) (*InitialAuth, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	res := flows.RunInitialAuth(ctx, sessionID, ref, e.deps)
	if err := e.flowError(ctx, "initial auth", res.Failure, res.Err); err != nil {
		return nil, err
	}
	return &InitialAuth{
		SessionID:    sessionID,
		AuthID:       res.AuthID,
		UserID:       res.UserID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}, nil
}
