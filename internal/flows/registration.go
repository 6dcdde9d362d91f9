package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/notify"
)

// RegistrationRequest starts a sign-up.
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

// RunBeginRegistration checks that the GLID is free and issues one
// challenge over every given contact. The sign-up is kept until those
// contacts are verified; the GLID itself is not reserved.
func RunBeginRegistration(ctx context.Context, req RegistrationRequest, deps Deps) ChallengeResult {
	out := ChallengeResult{SessionID: req.SessionID}

	glid := directory.NormalizeGLID(req.GLID)
	email := directory.NormalizeContact(directory.ContactEmail, req.Email)
	mobile := directory.NormalizeContact(directory.ContactPhone, req.Mobile)
	if glid == "" || (email == "" && mobile == "") {
		out.Failure, out.Err = FailureInvalidRegistration, errInvalidRegistration
		return out
	}
	if email != "" && !strings.Contains(email, "@") {
		out.Failure, out.Err = FailureInvalidContact, errInvalidContact
		return out
	}

	if _, failure, err := liveSession(ctx, deps, req.SessionID); failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}

	existing, err := deps.Directory.MasterByGLID(ctx, glid)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if existing != nil {
		out.Failure, out.Err = FailureGLIDUnavailable, directory.ErrDuplicate
		return out
	}

	issue := stores.IssueRequest{
		SessionID: req.SessionID,
		GLID:      glid,
		Module:    stores.ModuleRegistration,
		Reason:    reasonRegistration,
		LinkBase:  deps.LinkBase + registerPath,
	}
	if email != "" {
		issue.Email = &stores.Target{Address: email, Delivery: string(notify.DeliveryEmail)}
	}
	if mobile != "" {
		issue.Mobile = &stores.Target{Address: mobile, DialCode: req.DialCode, Delivery: string(notify.DeliverySMS)}
	}

	issued, err := deps.Challenges.Issue(ctx, issue)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	if err := deps.Registrations.Save(ctx, &stores.Registration{
		ChallengeID: issued.Challenge.ID,
		SessionID:   req.SessionID,
		GLID:        glid,
		Name:        strings.TrimSpace(req.Name),
		Location:    req.Location,
		Email:       email,
		Mobile:      mobile,
		DialCode:    req.DialCode,
		CountryCode: req.CountryCode,
		Language:    req.Language,
	}); err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	if !issued.Reused {
		for _, channel := range []string{stores.ChannelEmail, stores.ChannelMobile} {
			if issued.Challenge.Channel(channel).Requested() {
				msg := challengeMessage(notify.KindRegistrationOTP, issued, channel, req.Name, deps.Challenges.Window())
				msg.Language = req.Language
				deps.notify(ctx, msg)
			}
		}
	}

	out.ChallengeID = issued.Challenge.ID
	out.ExpiresAt = issued.Challenge.ExpiresAt
	out.Reused = issued.Reused
	return out
}

// ChallengeStatusResult is the per-channel progress of a challenge.
type ChallengeStatusResult struct {
	Failure    Failure
	Err        error
	Challenge  *stores.Challenge
	Expired    bool
	InvalidOTP bool
}

// VerifyRegistrationRequest is a code or followed link for a sign-up. The
// challenge is addressed by guid or, for links, by magic-link session.
type VerifyRegistrationRequest struct {
	ChallengeID      string
	MagicLinkSession string
	Code             string
	LinkChannel      string
}

// RunVerifyRegistration verifies one channel of a registration challenge.
// A wrong code or an expired challenge is reported in the status rather
// than as a failure.
func RunVerifyRegistration(ctx context.Context, req VerifyRegistrationRequest, deps Deps) ChallengeStatusResult {
	id := req.ChallengeID
	if id == "" && req.MagicLinkSession != "" {
		resolved, err := deps.Challenges.ResolveMagicLinkSession(ctx, req.MagicLinkSession)
		if err != nil {
			return ChallengeStatusResult{Failure: FailureBackend, Err: err}
		}
		id = resolved
	}

	ch, err := deps.Challenges.Get(ctx, id)
	if err != nil {
		return ChallengeStatusResult{Failure: FailureBackend, Err: err}
	}
	if ch == nil || ch.Module != stores.ModuleRegistration {
		if req.LinkChannel != "" {
			return ChallengeStatusResult{Failure: FailureInvalidLink, Err: errInvalidLink}
		}
		return ChallengeStatusResult{Failure: FailureInvalidMFA, Err: stores.ErrChallengeNotFound}
	}

	out := ChallengeStatusResult{}
	if req.LinkChannel != "" {
		err = deps.Challenges.VerifyLink(ctx, ch.ID, req.LinkChannel)
	} else {
		_, err = deps.Challenges.VerifyAnyCode(ctx, ch.ID, req.Code)
	}
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrChallengeMismatch):
		out.InvalidOTP = true
	case errors.Is(err, stores.ErrChallengeExpired):
		out.Expired = true
	case errors.Is(err, stores.ErrChallengeUsed), errors.Is(err, stores.ErrChallengeNotFound):
		if req.LinkChannel != "" {
			return ChallengeStatusResult{Failure: FailureInvalidLink, Err: err}
		}
		return ChallengeStatusResult{Failure: FailureInvalidMFA, Err: err}
	default:
		return ChallengeStatusResult{Failure: FailureBackend, Err: err}
	}

	fresh, err := deps.Challenges.Get(ctx, ch.ID)
	if err != nil {
		return ChallengeStatusResult{Failure: FailureBackend, Err: err}
	}
	if fresh != nil {
		ch = fresh
	}
	out.Challenge = ch
	out.Expired = out.Expired || ch.Expired(deps.now())
	return out
}

// RunChallengeStatus reports the progress of any challenge.
func RunChallengeStatus(ctx context.Context, id string, deps Deps) ChallengeStatusResult {
	ch, err := deps.Challenges.Get(ctx, id)
	if err != nil {
		return ChallengeStatusResult{Failure: FailureBackend, Err: err}
	}
	if ch == nil {
		return ChallengeStatusResult{Failure: FailureInvalidMFA, Err: stores.ErrChallengeNotFound}
	}
	return ChallengeStatusResult{Challenge: ch, Expired: ch.Expired(deps.now())}
}

// RunCompleteRegistration creates the user of a fully verified sign-up and
// activates the session it was started on.
func RunCompleteRegistration(ctx context.Context, sessionID, challengeID string, deps Deps) ActivationResult {
	out := ActivationResult{SessionID: sessionID}

	if _, failure, err := liveSession(ctx, deps, sessionID); failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}

	ch, err := deps.Challenges.Get(ctx, challengeID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if ch == nil || ch.Module != stores.ModuleRegistration || ch.SessionID != sessionID {
		out.Failure, out.Err = FailureInvalidMFA, errForeignChallenge
		return out
	}
	if !ch.Completed() {
		out.Failure, out.Err = FailureRegistrationIncomplete, errIncomplete
		return out
	}

	reg, err := deps.Registrations.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrRegistrationAbsent) {
			out.Failure, out.Err = FailureInvalidRegistration, err
			return out
		}
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	master, err := deps.Directory.CreateUser(ctx, directory.NewUser{
		GLID:           reg.GLID,
		Name:           reg.Name,
		Location:       reg.Location,
		Email:          reg.Email,
		EmailVerified:  ch.Email.Requested() && ch.Email.Done(),
		Mobile:         reg.Mobile,
		MobileVerified: ch.Mobile.Requested() && ch.Mobile.Done(),
		DialCode:       reg.DialCode,
		CountryCode:    reg.CountryCode,
		Language:       reg.Language,
	})
	if err != nil {
		if errors.Is(err, directory.ErrDuplicate) {
			out.Failure, out.Err = FailureGLIDUnavailable, err
			return out
		}
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	out.UserID = master.GUID

	if failure, err := identify(ctx, deps, sessionID, master.GUID, reg.Name, master.GLID); failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}
	auth, err := deps.Auths.CreateOrRenew(ctx, sessionID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	act := activate(ctx, deps, sessionID, jwt.Identity{ID: master.GUID, Name: reg.Name}, auth.ID)
	if act.Failure != FailureNone {
		return act
	}
	if err := deps.Registrations.Delete(ctx, challengeID); err != nil {
		deps.warn("glidauth: pending registration cleanup failed", "challenge_id", challengeID, "error", err)
	}
	return act
}
