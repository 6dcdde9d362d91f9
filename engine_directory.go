package glidauth

import (
	"context"

	"github.com/MrEthical07/glidauth/directory"
)

// GLIDExists reports whether a user owns glid.
func (e *Engine) GLIDExists(ctx context.Context, glid string) (bool, error) {
	master, err := e.master(ctx, glid)
	if err != nil {
		return false, err
	}
	return master != nil, nil
}

// VerifiedChannels lists the channels a login challenge can be sent to.
func (e *Engine) VerifiedChannels(ctx context.Context, glid string) ([]Channel, error) {
	master, err := e.master(ctx, glid)
	if err != nil {
		return nil, err
	}
	if master == nil {
		return nil, ErrInvalidGLID
	}

	channels := make([]Channel, 0, 2)
	if master.PrimaryEmail != "" {
		channels = append(channels, ChannelEmail)
	}
	if master.PrimaryPhone != "" {
		channels = append(channels, ChannelMobile)
	}
	return channels, nil
}

// HasPasswordFlow reports whether glid can sign in with a password.
func (e *Engine) HasPasswordFlow(ctx context.Context, glid string) (*PasswordFlow, error) {
	master, err := e.master(ctx, glid)
	if err != nil {
		return nil, err
	}
	if master == nil {
		return nil, ErrInvalidGLID
	}
	return &PasswordFlow{HasPassword: master.HasPassword()}, nil
}

func (e *Engine) master(ctx context.Context, glid string) (*directory.MasterUser, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	glid = directory.NormalizeGLID(glid)
	if glid == "" {
		return nil, ErrInvalidGLID
	}
	master, err := e.directory.MasterByGLID(ctx, glid)
	if err != nil {
		return nil, e.backendError(ctx, "directory lookup", err)
	}
	return master, nil
}

// ValidatePrelaunchPassword checks pwd against the configured prelaunch
// hash. It fails with ErrPrelaunchDisabled when no gate is configured.
func (e *Engine) ValidatePrelaunchPassword(ctx context.Context, pwd string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.config.Prelaunch.Enabled || e.config.Prelaunch.PasswordHash == "" {
		return ErrPrelaunchDisabled
	}

	ok, err := e.passwordHash.Verify(pwd, e.config.Prelaunch.PasswordHash)
	if err != nil {
		return e.backendError(ctx, "prelaunch verify", err)
	}
	if !ok {
		e.metricInc(MetricPrelaunchRejected)
		e.emitAudit(ctx, auditEventPrelaunchRejected, false, "", "", ErrInvalidPassword, nil)
		return ErrInvalidPassword
	}
	return nil
}
