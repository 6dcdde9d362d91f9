package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/notify"
	"github.com/MrEthical07/glidauth/session"
)

const (
	reasonLogin        = "MFA-login"
	reasonRecovery     = "forgot-password"
	reasonRecoverGLID  = "recovery glid"
	reasonRegistration = "registration"

	loginConfirmPath = "/en/login/confirm"
	registerPath     = "/en/register/verify"
)

// ChallengeResult identifies an issued challenge.
type ChallengeResult struct {
	Failure     Failure
	Err         error
	SessionID   string
	UserID      string
	ChallengeID string
	ExpiresAt   time.Time
	Reused      bool
}

// RefResult carries the authentication reference handed out once a login
// challenge is verified.
type RefResult struct {
	Failure   Failure
	Err       error
	SessionID string
	UserID    string
	Ref       string
}

// SendOTPRequest selects the user, channel and delivery of a challenge.
type SendOTPRequest struct {
	SessionID string
	GLID      string
	Channel   string
	Delivery  string
}

// RunSendLoginOTP issues a login challenge on one channel and queues its
// delivery. A live challenge for the same request is returned unchanged and
// not sent again.
func RunSendLoginOTP(ctx context.Context, req SendOTPRequest, deps Deps) ChallengeResult {
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
	profile, err := deps.Directory.Profile(ctx, master.GLID, master.Location)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if profile == nil {
		out.Failure, out.Err = FailureInvalidGLID, directory.ErrNotFound
		return out
	}

	target, failure := loginTarget(master, req.Channel, req.Delivery)
	if failure != FailureNone {
		out.Failure, out.Err = failure, errNoTarget
		return out
	}

	if failure, err := identify(ctx, deps, req.SessionID, master.GUID, profile.Name, master.GLID); failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}
	auth, err := deps.Auths.CreateOrRenew(ctx, req.SessionID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	issue := stores.IssueRequest{
		SessionID: req.SessionID,
		UserID:    master.GUID,
		GLID:      master.GLID,
		Module:    stores.ModuleLogin,
		Reason:    reasonLogin,
		LinkBase:  deps.LinkBase + loginConfirmPath + "?ref=" + auth.ID,
	}
	setTarget(&issue, req.Channel, target)

	issued, err := deps.Challenges.Issue(ctx, issue)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if !issued.Reused {
		deps.notify(ctx, challengeMessage(notify.KindLoginOTP, issued, req.Channel, profile.Name, deps.Challenges.Window()))
	}

	out.ChallengeID = issued.Challenge.ID
	out.ExpiresAt = issued.Challenge.ExpiresAt
	out.Reused = issued.Reused
	return out
}

// loginTarget picks the verified contact of channel.
func loginTarget(master *directory.MasterUser, channel, delivery string) (stores.Target, Failure) {
	switch channel {
	case stores.ChannelEmail:
		if master.PrimaryEmail == "" {
			return stores.Target{}, FailureNoVerifiedEmail
		}
		return stores.Target{Address: master.PrimaryEmail, Delivery: string(notify.DeliveryEmail)}, FailureNone
	default:
		if master.PrimaryPhone == "" {
			return stores.Target{}, FailureNoVerifiedMobile
		}
		if delivery == "" {
			delivery = string(notify.DeliverySMS)
		}
		return stores.Target{Address: master.PrimaryPhone, DialCode: master.DialCode, Delivery: delivery}, FailureNone
	}
}

func setTarget(req *stores.IssueRequest, channel string, target stores.Target) {
	t := target
	if channel == stores.ChannelMobile {
		req.Mobile = &t
		return
	}
	req.Email = &t
}

func challengeMessage(kind notify.Kind, issued *stores.Issued, channel, name string, window time.Duration) notify.Message {
	rec := issued.Challenge.Channel(channel)
	return notify.Message{
		Kind:      kind,
		Delivery:  notify.Delivery(rec.Delivery),
		To:        rec.Address,
		DialCode:  rec.DialCode,
		Name:      name,
		GLID:      issued.Challenge.GLID,
		Code:      issued.Codes[channel],
		Link:      rec.Link,
		ExpiresIn: window,
	}
}

// VerifyOTPRequest is a code submitted for a login challenge.
type VerifyOTPRequest struct {
	SessionID   string
	GLID        string
	ChallengeID string
	Code        string
	Channel     string
}

// RunVerifyLoginOTP consumes a login code. It does not activate the
// session; the returned ref is exchanged through RunVerifyAuthRef.
func RunVerifyLoginOTP(ctx context.Context, req VerifyOTPRequest, deps Deps) RefResult {
	out := RefResult{SessionID: req.SessionID}

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
	if ch == nil || ch.Module != stores.ModuleLogin || ch.SessionID != req.SessionID || ch.UserID != master.GUID {
		out.Failure, out.Err = FailureInvalidMFA, errForeignChallenge
		return out
	}

	if err := deps.Challenges.VerifyCode(ctx, ch.ID, req.Code, req.Channel); err != nil {
		out.Failure, out.Err = codeFailure(err), err
		if out.Failure == FailureOTPExpired {
			logExpiry(ctx, deps, ch)
		}
		return out
	}

	auth, err := deps.Auths.CreateOrRenew(ctx, req.SessionID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	out.Ref = auth.ID
	return out
}

// codeFailure maps ledger verification errors of a code submission.
func codeFailure(err error) Failure {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeUsed):
		return FailureInvalidMFA
	case errors.Is(err, stores.ErrChallengeExpired):
		return FailureOTPExpired
	case errors.Is(err, stores.ErrChallengeMismatch):
		return FailureInvalidOTP
	default:
		return FailureBackend
	}
}

// logExpiry records an expired challenge on its session once.
func logExpiry(ctx context.Context, deps Deps, ch *stores.Challenge) {
	if _, err := recordExpiry(ctx, deps, ch, nil); err != nil {
		deps.warn("glidauth: expiry marker failed", "challenge_id", ch.ID, "error", err)
	}
}

// recordExpiry appends the "2FA code expired" failure for ch the first time
// it is seen expired. An expired login challenge also fails the session's
// pending authentication unless another login challenge of the session is
// still open or already verified. siblings may be nil; it is loaded then.
func recordExpiry(ctx context.Context, deps Deps, ch *stores.Challenge, siblings []*stores.Challenge) (bool, error) {
	first, err := deps.Challenges.MarkExpiryLogged(ctx, ch.ID)
	if err != nil || !first {
		return false, err
	}
	if err := deps.Sessions.PushPreAuth(ctx, ch.SessionID, session.PreAuth{
		Time:    ch.ExpiresAt,
		Attempt: session.AttemptFailure,
		Details: session.DetailCodeExpired,
	}); err != nil {
		deps.warn("glidauth: pre-auth append failed", "session_id", ch.SessionID, "error", err)
		return false, nil
	}

	if ch.Module == stores.ModuleLogin {
		failPendingLogin(ctx, deps, ch, siblings)
	}
	return true, nil
}

func failPendingLogin(ctx context.Context, deps Deps, ch *stores.Challenge, siblings []*stores.Challenge) {
	if siblings == nil {
		var err error
		if siblings, err = deps.Challenges.ForSession(ctx, ch.SessionID); err != nil {
			deps.warn("glidauth: challenge lookup failed", "session_id", ch.SessionID, "error", err)
			return
		}
	}
	now := deps.now()
	for _, other := range siblings {
		if other.ID == ch.ID || other.Module != stores.ModuleLogin {
			continue
		}
		if !other.Expired(now) || other.Completed() {
			return
		}
	}
	if _, err := deps.Auths.FailPending(ctx, ch.SessionID); err != nil {
		deps.warn("glidauth: pending authentication not failed", "session_id", ch.SessionID, "error", err)
	}
}

// RunVerifyAuthRef activates the pending authentication ref once its
// session has passed a login challenge.
func RunVerifyAuthRef(ctx context.Context, ref string, deps Deps) ActivationResult {
	out := ActivationResult{AuthID: ref}

	auth, err := deps.Auths.Get(ctx, ref)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if auth == nil || auth.Status != stores.StatusCreated {
		out.Failure, out.Err = FailureInvalidVerification, errAuthNotPending
		return out
	}
	out.SessionID = auth.SessionID

	sess, failure, err := pendingAuthSession(ctx, deps, auth)
	if failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}
	out.UserID = sess.UserID

	verified, err := loginVerified(ctx, deps, sess)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if !verified {
		out.Failure, out.Err = FailureInvalidVerification, errUnverifiedLogin
		return out
	}

	return activate(ctx, deps, sess.ID, jwt.Identity{ID: sess.UserID, Name: sess.UserName}, auth.ID)
}

// pendingAuthSession checks that auth is the current authentication of an
// identified, live session and returns that session.
func pendingAuthSession(ctx context.Context, deps Deps, auth *stores.Authentication) (*session.Session, Failure, error) {
	current, err := deps.Auths.GetBySession(ctx, auth.SessionID)
	if err != nil {
		return nil, FailureBackend, err
	}
	if current == nil || current.ID != auth.ID {
		return nil, FailureInvalidVerification, errAuthNotCurrent
	}

	sess, err := deps.Sessions.Get(ctx, auth.SessionID)
	if err != nil {
		return nil, FailureBackend, err
	}
	if sess == nil || !sess.Identified() {
		return nil, FailureSessionNotBound, errSessionNotBound
	}
	if sess.Ended() {
		return nil, FailureInvalidSession, session.ErrEnded
	}
	return sess, FailureNone, nil
}

func loginVerified(ctx context.Context, deps Deps, sess *session.Session) (bool, error) {
	challenges, err := deps.Challenges.ForSession(ctx, sess.ID)
	if err != nil {
		return false, err
	}
	for _, ch := range challenges {
		if ch.Module != stores.ModuleLogin || ch.UserID != sess.UserID {
			continue
		}
		if ch.Email.Verified || ch.Mobile.Verified {
			return true, nil
		}
	}
	return false, nil
}

// MagicLinkRequest is a followed login link.
type MagicLinkRequest struct {
	Ref         string
	ChallengeID string
	Channel     string
}

// RunVerifyMagicLink activates the session of a login link. The link flag
// is flipped before activation so a link can only ever activate once.
func RunVerifyMagicLink(ctx context.Context, req MagicLinkRequest, deps Deps) ActivationResult {
	out := ActivationResult{AuthID: req.Ref}

	if req.Channel != stores.ChannelEmail && req.Channel != stores.ChannelMobile {
		out.Failure, out.Err = FailureInvalidLink, errInvalidLink
		return out
	}
	ch, err := deps.Challenges.Get(ctx, req.ChallengeID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if ch == nil || ch.Module != stores.ModuleLogin {
		out.Failure, out.Err = FailureInvalidLink, errInvalidLink
		return out
	}
	out.SessionID = ch.SessionID
	out.UserID = ch.UserID

	rec := ch.Channel(req.Channel)
	if !rec.Requested() || rec.LinkVerified {
		out.Failure, out.Err = FailureInvalidLink, errInvalidLink
		return out
	}
	if ch.Expired(deps.now()) {
		out.Failure, out.Err = FailureMFAExpired, stores.ErrChallengeExpired
		return out
	}

	auth, err := deps.Auths.Get(ctx, req.Ref)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if auth == nil || auth.SessionID != ch.SessionID || auth.Status != stores.StatusCreated {
		out.Failure, out.Err = FailureInvalidVerification, errAuthNotPending
		return out
	}
	sess, failure, err := pendingAuthSession(ctx, deps, auth)
	if failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}
	if sess.UserID != ch.UserID {
		out.Failure, out.Err = FailureSessionNotBound, errSessionNotBound
		return out
	}

	if err := deps.Challenges.VerifyLink(ctx, ch.ID, req.Channel); err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeExpired):
			out.Failure = FailureMFAExpired
		case errors.Is(err, stores.ErrChallengeUsed), errors.Is(err, stores.ErrChallengeNotFound):
			out.Failure = FailureInvalidLink
		default:
			out.Failure = FailureBackend
		}
		out.Err = err
		return out
	}

	return activate(ctx, deps, sess.ID, jwt.Identity{ID: sess.UserID, Name: sess.UserName}, auth.ID)
}

// InitialAuthResult carries the stored pair of an activated session.
type InitialAuthResult struct {
	Failure      Failure
	Err          error
	SessionID    string
	UserID       string
	AuthID       string
	AccessToken  string
	RefreshToken string
}

// RunInitialAuth hands the tokens of an activated ref to the session that
// owns it.
func RunInitialAuth(ctx context.Context, sessionID, ref string, deps Deps) InitialAuthResult {
	out := InitialAuthResult{SessionID: sessionID, AuthID: ref}

	auth, err := deps.Auths.Get(ctx, ref)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if auth == nil || auth.SessionID != sessionID || auth.Status != stores.StatusActivated {
		out.Failure, out.Err = FailureInvalidVerification, errAuthNotPending
		return out
	}

	sess, err := deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if !sess.Active() {
		out.Failure, out.Err = FailureInvalidSession, session.ErrNotFound
		return out
	}

	out.UserID = sess.UserID
	out.AccessToken = auth.AccessToken
	out.RefreshToken = auth.RefreshToken
	return out
}
