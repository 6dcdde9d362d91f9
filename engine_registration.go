package glidauth

import (
	"context"

	"github.com/MrEthical07/glidauth/internal/flows"
)

// BeginRegistration checks that the GLID is free, keeps the sign-up and
// sends one registration challenge to every given contact.
func (e *Engine) BeginRegistration(ctx context.Context, req RegistrationRequest) (*ChallengeTicket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, ErrMissingSessionID
	}

	res := flows.RunBeginRegistration(ctx, flows.RegistrationRequest{
		SessionID:   req.SessionID,
		GLID:        req.GLID,
		Name:        req.Name,
		Location:    req.Location,
		Email:       req.Email,
		Mobile:      req.Mobile,
		DialCode:    req.DialCode,
		CountryCode: req.CountryCode,
		Language:    req.Language,
	}, e.deps)
	if err := e.flowError(ctx, "begin registration", res.Failure, res.Err); err != nil {
		e.metricInc(MetricRegistrationFailure)
		e.emitAudit(ctx, auditEventRegistrationFailure, false, "", req.SessionID, err, nil)
		return nil, err
	}

	if !res.Reused {
		e.metricInc(MetricRegistrationStarted)
	}
	e.emitAudit(ctx, auditEventRegistrationStarted, true, "", req.SessionID, nil, func() map[string]string {
		return map[string]string{"challenge_id": res.ChallengeID}
	})
	return challengeTicket(res), nil
}

// VerifyRegistration verifies one channel of a registration challenge by
// code or, when linkMode is "e" or "p", by followed link. The challenge is
// addressed by challengeID or by the magic-link session of the link. A
// wrong code sets InvalidOTP and an expired challenge sets Expired; neither
// is returned as an error.
func (e *Engine) VerifyRegistration(ctx context.Context, challengeID, magicLinkSession, code, linkMode string) (*ChallengeStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	req := flows.VerifyRegistrationRequest{
		ChallengeID:      challengeID,
		MagicLinkSession: magicLinkSession,
		Code:             code,
	}
	if linkMode != "" {
		channel, ok := parseLinkMode(linkMode)
		if !ok {
			return nil, ErrInvalidLink
		}
		req.LinkChannel = string(channel)
	} else if code == "" {
		return nil, ErrInvalidOTP
	}

	res := flows.RunVerifyRegistration(ctx, req, e.deps)
	if err := e.flowError(ctx, "verify registration", res.Failure, res.Err); err != nil {
		e.metricInc(MetricRegistrationFailure)
		e.emitAudit(ctx, auditEventRegistrationVerify, false, "", "", err, nil)
		return nil, err
	}

	status := challengeStatus(res)
	if !status.InvalidOTP && !status.Expired {
		e.metricInc(MetricRegistrationVerified)
	}
	e.emitAudit(ctx, auditEventRegistrationVerify, !status.InvalidOTP && !status.Expired, "", res.Challenge.SessionID, nil, func() map[string]string {
		return map[string]string{"challenge_id": res.Challenge.ID}
	})
	return status, nil
}

// ChallengeStatus reports the per-channel progress of any challenge.
func (e *Engine) ChallengeStatus(ctx context.Context, challengeID string) (*ChallengeStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if challengeID == "" {
		return nil, ErrInvalidMFA
	}

	res := flows.RunChallengeStatus(ctx, challengeID, e.deps)
	if err := e.flowError(ctx, "challenge status", res.Failure, res.Err); err != nil {
		return nil, err
	}
	return challengeStatus(res), nil
}

// CompleteRegistration creates the user of a fully verified sign-up and
// activates the session it was started on.
func (e *Engine) CompleteRegistration(ctx context.Context, sessionID, challengeID string) (*ActivationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	res := flows.RunCompleteRegistration(ctx, sessionID, challengeID, e.deps)
	if err := e.flowError(ctx, "complete registration", res.Failure, res.Err); err != nil {
		e.metricInc(MetricRegistrationFailure)
		e.emitAudit(ctx, auditEventRegistrationFailure, false, res.UserID, sessionID, err, nil)
		return nil, err
	}

	e.metricInc(MetricRegistrationCompleted)
	e.metricInc(MetricSessionActivated)
	e.emitAudit(ctx, auditEventRegistrationComplete, true, res.UserID, sessionID, nil, nil)
	return activationResult(statusSuccess, res), nil
}

func challengeStatus(res flows.ChallengeStatusResult) *ChallengeStatus {
	ch := res.Challenge
	return &ChallengeStatus{
		EmailRequested:  ch.Email.Requested(),
		MobileRequested: ch.Mobile.Requested(),
		EmailVerified:   ch.Email.Requested() && ch.Email.Done(),
		MobileVerified:  ch.Mobile.Requested() && ch.Mobile.Done(),
		Completed:       ch.Completed(),
		Expired:         res.Expired,
		ExpiresAt:       ch.ExpiresAt,
		LinkExpired:     res.Expired,
		InvalidOTP:      res.InvalidOTP,
	}
}
