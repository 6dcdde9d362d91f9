package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/session"
)

// LogoutResult reports the session that was ended.
type LogoutResult struct {
	Failure   Failure
	Err       error
	SessionID string
	UserID    string
}

// RunLogout ends the caller's own session with the LoggedOut status.
func RunLogout(ctx context.Context, sessionID string, deps Deps) LogoutResult {
	out := LogoutResult{SessionID: sessionID}

	sess, err := deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if sess == nil {
		out.Failure, out.Err = FailureInvalidSession, session.ErrNotFound
		return out
	}
	out.UserID = sess.UserID

	out.Failure, out.Err = endStrict(ctx, deps, sessionID, stores.StatusLoggedOut)
	return out
}

// RunCloseSession ends another session of the same user.
func RunCloseSession(ctx context.Context, current, target, userID string, deps Deps) LogoutResult {
	out := LogoutResult{SessionID: target, UserID: userID}

	if target == current {
		out.Failure, out.Err = FailureCloseCurrentSession, errCloseCurrent
		return out
	}

	sess, err := deps.Sessions.Get(ctx, target)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if sess == nil || sess.UserID == "" || sess.UserID != userID {
		out.Failure, out.Err = FailureInvalidSession, session.ErrNotFound
		return out
	}

	out.Failure, out.Err = endStrict(ctx, deps, target, stores.StatusSessionClosed)
	return out
}

func endStrict(ctx context.Context, deps Deps, sessionID string, status int) (Failure, error) {
	err := deps.Auths.End(ctx, stores.EndStrict, deps.Sessions.Key(sessionID), sessionID, status)
	switch {
	case err == nil:
		return FailureNone, nil
	case errors.Is(err, stores.ErrAuthNotActivated), errors.Is(err, stores.ErrSessionNotFound):
		return FailureInvalidSession, err
	default:
		return FailureBackend, err
	}
}

// CloseAllResult lists the sessions closed by RunCloseAll.
type CloseAllResult struct {
	Failure Failure
	Err     error
	UserID  string
	Closed  []string
}

// RunCloseAll ends every other Active session of the user. Each session is
// closed together with its authentication; sessions that stopped being
// Active in the meantime are skipped.
func RunCloseAll(ctx context.Context, current, userID string, deps Deps) CloseAllResult {
	out := CloseAllResult{UserID: userID}

	ids, err := deps.Sessions.ActiveForUser(ctx, userID, current)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	for _, id := range ids {
		err := deps.Auths.End(ctx, stores.EndSweep, deps.Sessions.Key(id), id, stores.StatusSessionClosed)
		switch {
		case err == nil:
			out.Closed = append(out.Closed, id)
		case errors.Is(err, stores.ErrSessionNotActive), errors.Is(err, stores.ErrSessionNotFound):
		default:
			out.Failure, out.Err = FailureBackend, err
			return out
		}
	}
	return out
}
