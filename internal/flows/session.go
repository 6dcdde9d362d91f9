package flows

import (
	"context"

	"github.com/MrEthical07/glidauth/session"
)

// CreateSessionResult reports the session bound to a browser.
type CreateSessionResult struct {
	Failure Failure
	Err     error
	Session *session.Session
	Reused  bool
}

// RunCreateSession returns the caller's current session when it is still
// usable and otherwise starts a new unidentified one.
func RunCreateSession(ctx context.Context, currentID string, meta session.Meta, deps Deps) CreateSessionResult {
	if currentID != "" {
		sess, err := deps.Sessions.Get(ctx, currentID)
		if err != nil {
			return CreateSessionResult{Failure: FailureBackend, Err: err}
		}
		if sess != nil && !sess.Ended() && !deps.Sessions.TimedOut(sess) {
			return CreateSessionResult{Session: sess, Reused: true}
		}
	}

	sess, err := deps.Sessions.CreateUnidentified(ctx, meta)
	if err != nil {
		return CreateSessionResult{Failure: FailureBackend, Err: err}
	}
	return CreateSessionResult{Session: sess}
}

// SessionStateResult is the polling view of a session.
type SessionStateResult struct {
	Failure    Failure
	Err        error
	Active     bool
	Ref        string
	LastAccess int64
}

// RunSessionState reports whether the session became Active and, if so,
// the authentication it was activated with.
func RunSessionState(ctx context.Context, sessionID string, deps Deps) SessionStateResult {
	sess, err := deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return SessionStateResult{Failure: FailureBackend, Err: err}
	}
	if sess == nil {
		return SessionStateResult{Failure: FailureInvalidSession, Err: session.ErrNotFound}
	}
	if !sess.Active() {
		return SessionStateResult{}
	}

	auth, err := deps.Auths.GetBySession(ctx, sessionID)
	if err != nil {
		return SessionStateResult{Failure: FailureBackend, Err: err}
	}
	out := SessionStateResult{Active: true, LastAccess: sess.LastAccess}
	if auth != nil {
		out.Ref = auth.ID
	}
	return out
}

// SessionDetailResult carries a session owned by the caller.
type SessionDetailResult struct {
	Failure Failure
	Err     error
	Session *session.Session
}

// RunSessionDetail loads a session for its owner. Unknown sessions and
// sessions of other users are both invalid.
func RunSessionDetail(ctx context.Context, sessionID, userID string, deps Deps) SessionDetailResult {
	sess, err := deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return SessionDetailResult{Failure: FailureBackend, Err: err}
	}
	if sess == nil || sess.UserID == "" || sess.UserID != userID {
		return SessionDetailResult{Failure: FailureInvalidSession, Err: session.ErrNotFound}
	}
	if deps.Sessions.TimedOut(sess) {
		return SessionDetailResult{Failure: FailureSessionTimeout, Err: session.ErrEnded, Session: sess}
	}
	return SessionDetailResult{Session: sess}
}

// ExpiredChallengesResult counts the failures logged by RunExpiredChallenges.
type ExpiredChallengesResult struct {
	Failure Failure
	Err     error
	Logged  int
}

// RunExpiredChallenges appends a "2FA code expired" failure to the
// session's pre-authentication log for every challenge that expired before
// all of its channels were verified. Each challenge is logged once, and a
// login that can no longer finish ends its pending authentication with
// ExpiredWithFailure.
func RunExpiredChallenges(ctx context.Context, sessionID string, deps Deps) ExpiredChallengesResult {
	challenges, err := deps.Challenges.ForSession(ctx, sessionID)
	if err != nil {
		return ExpiredChallengesResult{Failure: FailureBackend, Err: err}
	}

	now := deps.now()
	out := ExpiredChallengesResult{}
	for _, ch := range challenges {
		if !ch.Expired(now) || ch.Completed() {
			continue
		}
		logged, err := recordExpiry(ctx, deps, ch, challenges)
		if err != nil {
			return ExpiredChallengesResult{Failure: FailureBackend, Err: err, Logged: out.Logged}
		}
		if logged {
			out.Logged++
		}
	}
	return out
}
