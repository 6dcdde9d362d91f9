package flows

import (
	"context"

	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/session"
)

// LoginResult carries the outcome of a password login. Tokens are set only
// when no second factor is required.
type LoginResult struct {
	Failure     Failure
	Err         error
	SessionID   string
	UserID      string
	AuthID      string
	RequiresMFA bool
	Channels    []string
	Tokens      Tokens
}

// RunLogin verifies a GLID and password on a session. Users with a verified
// contact are left with a Created authentication pending a second factor;
// everyone else is activated immediately.
func RunLogin(ctx context.Context, sessionID, glid, pwd string, deps Deps) LoginResult {
	out := LoginResult{SessionID: sessionID}

	master, err := deps.Directory.MasterByGLID(ctx, directory.NormalizeGLID(glid))
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if master == nil {
		out.Failure, out.Err = FailureInvalidGLID, directory.ErrNotFound
		return out
	}
	out.UserID = master.GUID

	if _, failure, err := liveSession(ctx, deps, sessionID); failure != FailureNone {
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

	if failure, err := identify(ctx, deps, sessionID, master.GUID, profile.Name, master.GLID); failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}

	if !master.HasPassword() {
		out.Failure, out.Err = FailureInvalidPassword, errPasswordNotSet
		return out
	}
	ok, err := deps.Hasher.Verify(pwd, master.PasswordHash)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if !ok {
		if err := deps.Sessions.PushPreAuth(ctx, sessionID, session.PreAuth{
			Attempt: session.AttemptFailure,
			Details: session.DetailIncorrectPassword,
		}); err != nil {
			deps.warn("glidauth: pre-auth append failed", "session_id", sessionID, "error", err)
		}
		out.Failure, out.Err = FailureInvalidPassword, errPasswordMismatch
		return out
	}

	auth, err := deps.Auths.CreateOrRenew(ctx, sessionID)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}

	if master.HasVerifiedContact() {
		out.RequiresMFA = true
		if master.PrimaryEmail != "" {
			out.Channels = append(out.Channels, stores.ChannelEmail)
		}
		if master.PrimaryPhone != "" {
			out.Channels = append(out.Channels, stores.ChannelMobile)
		}
		return out
	}

	act := activate(ctx, deps, sessionID, jwt.Identity{ID: master.GUID, Name: profile.Name}, auth.ID)
	out.Failure, out.Err = act.Failure, act.Err
	out.AuthID = act.AuthID
	out.Tokens = act.Tokens
	return out
}
