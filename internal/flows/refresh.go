package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/session"
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure   Failure
	Err       error
	SessionID string
	UserID    string
	AuthID    string
	Tokens    Tokens
}

// RunRefresh rotates the token pair of an Active session. The stored
// refresh token is compared and replaced atomically, so of several
// concurrent refreshes with the same token exactly one succeeds.
func RunRefresh(ctx context.Context, sessionID, refreshToken string, deps Deps) RefreshResult {
	out := RefreshResult{SessionID: sessionID}

	claims, err := deps.Tokens.Parse(refreshToken, jwt.KindRefresh)
	if err != nil {
		out.Failure, out.Err = FailureUnauthorized, err
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

	if deps.Sessions.TimedOut(sess) {
		expire(ctx, deps, sessionID)
		out.Failure, out.Err = FailureSessionTimeout, session.ErrEnded
		return out
	}
	if claims.ID != sess.UserID {
		out.Failure, out.Err = FailureUnauthorized, errSubjectMismatch
		return out
	}

	tokens, err := deps.mintPair(jwt.Identity{ID: sess.UserID, Name: sess.UserName})
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	guid, err := deps.Auths.RotateRefresh(ctx, sessionID, refreshToken, tokens.Access.Value, tokens.Refresh.Value)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrAuthNotFound),
			errors.Is(err, stores.ErrAuthNotActivated),
			errors.Is(err, stores.ErrRefreshMismatch):
			out.Failure = FailureUnauthorized
		default:
			out.Failure = FailureBackend
		}
		out.Err = err
		return out
	}

	if err := deps.Sessions.Touch(ctx, sessionID); err != nil {
		deps.warn("glidauth: session touch failed", "session_id", sessionID, "error", err)
	}

	out.AuthID = guid
	out.Tokens = tokens
	return out
}

// expire ends a timed out session with the Expired status.
func expire(ctx context.Context, deps Deps, sessionID string) {
	err := deps.Auths.End(ctx, stores.EndStrict, deps.Sessions.Key(sessionID), sessionID, stores.StatusExpired)
	if err == nil || errors.Is(err, stores.ErrAuthNotActivated) || errors.Is(err, stores.ErrSessionNotFound) {
		return
	}
	deps.warn("glidauth: expiring session failed", "session_id", sessionID, "error", err)
}
