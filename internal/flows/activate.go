package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/session"
)

// ActivationResult carries the minted pair of a newly active session or
// failure metadata.
type ActivationResult struct {
	Failure   Failure
	Err       error
	SessionID string
	UserID    string
	AuthID    string
	Tokens    Tokens
}

// activate mints a pair for id, stores it on the authentication and flips
// the session to Active. A session that ended in between takes the
// authentication down with it.
func activate(ctx context.Context, deps Deps, sessionID string, id jwt.Identity, authID string) ActivationResult {
	out := ActivationResult{SessionID: sessionID, UserID: id.ID, AuthID: authID}

	tokens, err := deps.mintPair(id)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	if err := deps.Auths.Activate(ctx, authID, tokens.Access.Value, tokens.Refresh.Value); err != nil {
		if errors.Is(err, stores.ErrAuthTerminal) || errors.Is(err, stores.ErrAuthNotFound) {
			out.Failure, out.Err = FailureInvalidVerification, err
			return out
		}
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	if err := deps.Sessions.Activate(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrEnded) || errors.Is(err, session.ErrNotFound) {
			if endErr := deps.Auths.End(ctx, stores.EndStrict, deps.Sessions.Key(sessionID), sessionID, stores.StatusSessionClosed); endErr != nil &&
				!errors.Is(endErr, stores.ErrSessionNotFound) {
				deps.warn("glidauth: closing authentication of ended session failed", "session_id", sessionID, "error", endErr)
			}
			out.Failure, out.Err = FailureInvalidSession, err
			return out
		}
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	out.Tokens = tokens
	return out
}

// liveSession loads a session that exists and has not ended.
func liveSession(ctx context.Context, deps Deps, sessionID string) (*session.Session, Failure, error) {
	sess, err := deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, FailureBackend, err
	}
	if sess == nil || sess.Ended() {
		return nil, FailureInvalidSession, session.ErrNotFound
	}
	return sess, FailureNone, nil
}

// identify binds userID to the session. A session owned by someone else is
// an invalid session.
func identify(ctx context.Context, deps Deps, sessionID, userID, userName, glid string) (Failure, error) {
	err := deps.Sessions.Identify(ctx, sessionID, userID, userName, glid)
	switch {
	case err == nil:
		return FailureNone, nil
	case errors.Is(err, session.ErrBoundToOther), errors.Is(err, session.ErrNotFound):
		return FailureInvalidSession, err
	default:
		return FailureBackend, err
	}
}
