package flows

import (
	"context"
	"strings"

	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/notify"
)

// RunSendRecoveryOTP issues a forgot-password challenge on one verified
// channel of the user.
func RunSendRecoveryOTP(ctx context.Context, req SendOTPRequest, deps Deps) ChallengeResult {
	out := ChallengeResult{SessionID: req.SessionID}

	master, err := deps.Directory.MasterByGLID(ctx, directory.NormalizeGLID(req.GLID))
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if master == nil {
		out.Failure, out.Err = FailureInvalidGLID, directory.ErrNotFound
		return out
	}
	out.UserID = master.GUID

	if _, failure, err := liveSession(ctx, deps, req.SessionID); failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}
	target, failure := loginTarget(master, req.Channel, req.Delivery)
	if failure != FailureNone {
		out.Failure, out.Err = failure, errNoTarget
		return out
	}

	issue := stores.IssueRequest{
		SessionID: req.SessionID,
		UserID:    master.GUID,
		GLID:      master.GLID,
		Module:    stores.ModulePassword,
		Reason:    reasonRecovery,
	}
	setTarget(&issue, req.Channel, target)

	issued, err := deps.Challenges.Issue(ctx, issue)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if !issued.Reused {
		deps.notify(ctx, challengeMessage(notify.KindRecoveryOTP, issued, req.Channel, master.Name, deps.Challenges.Window()))
	}

	out.ChallengeID = issued.Challenge.ID
	out.ExpiresAt = issued.Challenge.ExpiresAt
	out.Reused = issued.Reused
	return out
}

// RunVerifyRecoveryOTP consumes a recovery code on whichever channel it
// matches and activates the session, so the password can then be reset on
// an authorized route.
func RunVerifyRecoveryOTP(ctx context.Context, req VerifyOTPRequest, deps Deps) ActivationResult {
	out := ActivationResult{SessionID: req.SessionID}

	master, err := deps.Directory.MasterByGLID(ctx, directory.NormalizeGLID(req.GLID))
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if master == nil {
		out.Failure, out.Err = FailureInvalidGLID, directory.ErrNotFound
		return out
	}
	out.UserID = master.GUID

	if _, failure, err := liveSession(ctx, deps, req.SessionID); failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}

	ch, err := deps.Challenges.Get(ctx, req.ChallengeID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if ch == nil || ch.Module != stores.ModulePassword || ch.SessionID != req.SessionID || ch.UserID != master.GUID {
		out.Failure, out.Err = FailureInvalidMFA, errForeignChallenge
		return out
	}
	if _, err := deps.Challenges.VerifyAnyCode(ctx, ch.ID, req.Code); err != nil {
		out.Failure, out.Err = codeFailure(err), err
		if out.Failure == FailureOTPExpired {
			logExpiry(ctx, deps, ch)
		}
		return out
	}

	name := master.Name
	profile, err := deps.Directory.Profile(ctx, master.GLID, master.Location)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if profile != nil {
		name = profile.Name
	}

	if failure, err := identify(ctx, deps, req.SessionID, master.GUID, name, master.GLID); failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}
	auth, err := deps.Auths.CreateOrRenew(ctx, req.SessionID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	return activate(ctx, deps, req.SessionID, jwt.Identity{ID: master.GUID, Name: name}, auth.ID)
}

// RecoverGLIDRequest names the contact a forgotten GLID is sent to.
type RecoverGLIDRequest struct {
	SessionID string
	Channel   string
	Value     string
	DialCode  string
}

// RunRecoverGLID sends the GLID owning a verified contact back to that
// contact.
func RunRecoverGLID(ctx context.Context, req RecoverGLIDRequest, deps Deps) ChallengeResult {
	out := ChallengeResult{SessionID: req.SessionID}

	kind := directory.ContactPhone
	delivery := string(notify.DeliverySMS)
	if req.Channel == stores.ChannelEmail {
		kind = directory.ContactEmail
		delivery = string(notify.DeliveryEmail)
	}
	value := directory.NormalizeContact(kind, req.Value)
	if value == "" || (kind == directory.ContactEmail && !strings.Contains(value, "@")) {
		out.Failure, out.Err = FailureInvalidContact, errInvalidContact
		return out
	}

	if _, failure, err := liveSession(ctx, deps, req.SessionID); failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}

	master, err := deps.Directory.MasterByContact(ctx, kind, value)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if master == nil {
		out.Failure, out.Err = FailureInvalidContact, errInvalidContact
		return out
	}
	out.UserID = master.GUID

	target := stores.Target{Address: value, Delivery: delivery}
	channel := stores.ChannelEmail
	if kind == directory.ContactPhone {
		channel = stores.ChannelMobile
		target.DialCode = req.DialCode
		if target.DialCode == "" {
			target.DialCode = master.DialCode
		}
	}
	issue := stores.IssueRequest{
		SessionID: req.SessionID,
		UserID:    master.GUID,
		GLID:      master.GLID,
		Module:    stores.ModuleAccountRecovery,
		Reason:    reasonRecoverGLID,
	}
	setTarget(&issue, channel, target)

	issued, err := deps.Challenges.Issue(ctx, issue)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if !issued.Reused {
		deps.notify(ctx, challengeMessage(notify.KindGLIDReminder, issued, channel, master.Name, deps.Challenges.Window()))
	}

	out.ChallengeID = issued.Challenge.ID
	out.ExpiresAt = issued.Challenge.ExpiresAt
	out.Reused = issued.Reused
	return out
}
