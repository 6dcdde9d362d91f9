package flows

import (
	"context"

	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/session"
)

// Mode mirrors the root RouteMode.
type Mode uint8

const (
	ModePublic Mode = iota
	ModeStandard
	ModeRestricted
	ModeNoTouch
)

// AuthorizeRequest is what the gate extracted from a request.
type AuthorizeRequest struct {
	Mode      Mode
	SessionID string
	Token     string
}

// AuthorizeResult carries the resolved caller.
type AuthorizeResult struct {
	Failure   Failure
	Err       error
	SessionID string
	UserID    string
	UserName  string
	TimedOut  bool
	Touched   bool
}

// RunAuthorize resolves the session of a request according to mode.
//
// Public never rejects. NoTouch requires a session id and changes nothing.
// Standard requires a session and advances its lastAccess. Restricted also
// requires an access token whose authentication belongs to the same Active
// session and user. A timed out Active session is expired on the spot.
func RunAuthorize(ctx context.Context, req AuthorizeRequest, deps Deps) AuthorizeResult {
	out := AuthorizeResult{SessionID: req.SessionID}

	switch req.Mode {
	case ModePublic:
		if req.SessionID == "" {
			return out
		}
		sess, err := deps.Sessions.Get(ctx, req.SessionID)
		if err != nil || sess == nil {
			return out
		}
		out.UserID, out.UserName = sess.UserID, sess.UserName
		return out

	case ModeNoTouch:
		if req.SessionID == "" {
			out.Failure, out.Err = FailureInvalidSession, session.ErrNotFound
		}
		return out

	case ModeStandard:
		sess, failure, err := gateSession(ctx, req.SessionID, deps)
		if failure != FailureNone {
			out.Failure, out.Err = failure, err
			return out
		}
		out.UserID, out.UserName = sess.UserID, sess.UserName
		if sess.Active() && deps.Sessions.TimedOut(sess) {
			expire(ctx, deps, sess.ID)
			out.TimedOut = true
			out.Failure, out.Err = FailureSessionTimeout, session.ErrEnded
			return out
		}
		out.Touched = touch(ctx, deps, sess.ID)
		return out

	default:
		return authorizeRestricted(ctx, req, deps)
	}
}

func authorizeRestricted(ctx context.Context, req AuthorizeRequest, deps Deps) AuthorizeResult {
	out := AuthorizeResult{SessionID: req.SessionID}

	if req.Token == "" {
		out.Failure, out.Err = FailureUnauthorized, errMissingToken
		return out
	}
	claims, err := deps.Tokens.Parse(req.Token, jwt.KindAccess)
	if err != nil {
		out.Failure, out.Err = FailureUnauthorized, err
		return out
	}

	auth, err := deps.Auths.GetByAccessToken(ctx, req.Token)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if auth == nil || auth.Status != stores.StatusActivated {
		out.Failure, out.Err = FailureUnauthorized, stores.ErrAuthNotActivated
		return out
	}
	if req.SessionID == "" {
		out.SessionID = auth.SessionID
	}
	if out.SessionID != auth.SessionID {
		out.Failure, out.Err = FailureUnauthorized, errSubjectMismatch
		return out
	}

	sess, failure, err := gateSession(ctx, out.SessionID, deps)
	if failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}
	if !sess.Active() {
		out.Failure, out.Err = FailureUnauthorized, stores.ErrSessionNotActive
		return out
	}
	if claims.ID != sess.UserID {
		out.Failure, out.Err = FailureUnauthorized, errSubjectMismatch
		return out
	}
	out.UserID, out.UserName = sess.UserID, sess.UserName

	if deps.Sessions.TimedOut(sess) {
		expire(ctx, deps, sess.ID)
		out.TimedOut = true
		out.Failure, out.Err = FailureSessionTimeout, session.ErrEnded
		return out
	}
	out.Touched = touch(ctx, deps, sess.ID)
	return out
}

func gateSession(ctx context.Context, sessionID string, deps Deps) (*session.Session, Failure, error) {
	if sessionID == "" {
		return nil, FailureInvalidSession, session.ErrNotFound
	}
	sess, err := deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, FailureBackend, err
	}
	if sess == nil {
		return nil, FailureInvalidSession, session.ErrNotFound
	}
	return sess, FailureNone, nil
}

func touch(ctx context.Context, deps Deps, sessionID string) bool {
	if err := deps.Sessions.Touch(ctx, sessionID); err != nil {
		deps.warn("glidauth: session touch failed", "session_id", sessionID, "error", err)
		return false
	}
	return true
}
