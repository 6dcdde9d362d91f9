package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/password"
)

// Password flow statuses.
const (
	StatusSuccess       = "success"
	StatusChangeWithMFA = "change with MFA"
	StatusVerified      = "verified"
)

// PasswordResult reports the outcome of a password change.
type PasswordResult struct {
	Failure Failure
	Err     error
	UserID  string
	Status  string
}

// RunChangePassword replaces the user's password after checking the old
// one. Users with a verified contact are sent through the MFA reset flow
// instead and nothing is changed.
func RunChangePassword(ctx context.Context, userID, oldPassword, newPassword string, deps Deps) PasswordResult {
	out := PasswordResult{UserID: userID}

	master, failure, err := masterByGUID(ctx, deps, userID)
	if failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}

	if master.HasVerifiedContact() {
		out.Status = StatusChangeWithMFA
		return out
	}
	if !master.HasPassword() {
		out.Failure, out.Err = FailurePasswordNotSet, errPasswordNotSet
		return out
	}
	if oldPassword == newPassword {
		out.Failure, out.Err = FailurePasswordReuse, errPasswordReuse
		return out
	}
	ok, err := deps.Hasher.Verify(oldPassword, master.PasswordHash)
	if err != nil {
		out.Failure, out.Err = FailureBackend, err
		return out
	}
	if !ok {
		out.Failure, out.Err = FailureOldPasswordMismatch, errPasswordMismatch
		return out
	}

	out.Failure, out.Err = storePassword(ctx, deps, master.GUID, newPassword)
	if out.Failure == FailureNone {
		out.Status = StatusSuccess
	}
	return out
}

// RunResetPassword sets a new password without checking the old one. The
// caller must already hold a session activated through a recovery challenge.
func RunResetPassword(ctx context.Context, userID, newPassword string, deps Deps) PasswordResult {
	out := PasswordResult{UserID: userID}

	master, failure, err := masterByGUID(ctx, deps, userID)
	if failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}
	out.Failure, out.Err = storePassword(ctx, deps, master.GUID, newPassword)
	if out.Failure == FailureNone {
		out.Status = StatusSuccess
	}
	return out
}

// RunDeletePassword clears the password hash, leaving MFA as the only way in.
func RunDeletePassword(ctx context.Context, userID string, deps Deps) PasswordResult {
	out := PasswordResult{UserID: userID}

	master, failure, err := masterByGUID(ctx, deps, userID)
	if failure != FailureNone {
		out.Failure, out.Err = failure, err
		return out
	}
	if err := deps.Directory.SetPasswordHash(ctx, master.GUID, ""); err != nil {
		out.Failure, out.Err = directoryFailure(err), err
		return out
	}
	out.Status = StatusSuccess
	return out
}

func masterByGUID(ctx context.Context, deps Deps, userID string) (*directory.MasterUser, Failure, error) {
	if userID == "" {
		return nil, FailureInvalidSession, errSessionNotBound
	}
	master, err := deps.Directory.MasterByGUID(ctx, userID)
	if err != nil {
		return nil, FailureBackend, err
	}
	if master == nil {
		return nil, FailureInvalidGLID, directory.ErrNotFound
	}
	return master, FailureNone, nil
}

func storePassword(ctx context.Context, deps Deps, guid, pwd string) (Failure, error) {
	hash, err := deps.Hasher.Hash(pwd)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return FailurePasswordPolicy, err
		}
		return FailureBackend, err
	}
	if err := deps.Directory.SetPasswordHash(ctx, guid, hash); err != nil {
		return directoryFailure(err), err
	}
	return FailureNone, nil
}

func directoryFailure(err error) Failure {
	if errors.Is(err, directory.ErrNotFound) {
		return FailureInvalidGLID
	}
	return FailureBackend
}
