package glidauth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/internal/flows"
	"github.com/MrEthical07/glidauth/internal/logging"
	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/notify"
	"github.com/MrEthical07/glidauth/password"
	"github.com/MrEthical07/glidauth/session"
)

// Locator resolves a client IP to a coarse location label. Failures are
// logged and the session is created without a location.
type Locator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context, ip string) (string, error)

func (f LocatorFunc) Locate(ctx context.Context, ip string) (string, error) {
	return f(ctx, ip)
}

// Engine runs every session and authentication operation. It is safe for
// concurrent use; all shared state lives in Redis and the directory.
type Engine struct {
	config        Config
	sessions      *session.Store
	auths         *stores.AuthenticationStore
	challenges    *stores.ChallengeStore
	registrations *stores.RegistrationStore
	directory     directory.Directory
	jwtManager    *jwt.Manager
	passwordHash  *password.Argon2
	notifier      *notify.Dispatcher
	locator       Locator
	audit         *auditDispatcher
	metrics       *Metrics
	logger        *slog.Logger
	deps          flows.Deps
}

// Close flushes queued notifications and audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.notifier != nil {
		e.notifier.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotifyDropped counts notifications dropped because the queue was full.
func (e *Engine) NotifyDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.notifier.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	s := e.metrics.Snapshot()
	if e.metrics.Enabled() {
		s.Counters[MetricNotifyDropped] = e.notifier.Dropped()
	}
	return s
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return DefaultConfig()
	}
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return nil
}

// flowError maps a flow failure to the public error. Backend failures are
// logged here and wrapped so callers can still match ErrBackend.
func (e *Engine) flowError(ctx context.Context, op string, failure flows.Failure, cause error) error {
	switch failure {
	case flows.FailureNone:
		return nil
	case flows.FailureInvalidGLID:
		return ErrInvalidGLID
	case flows.FailureInvalidSession:
		return ErrInvalidSession
	case flows.FailureSessionTimeout:
		return ErrSessionTimeout
	case flows.FailureInvalidPassword:
		return ErrInvalidPassword
	case flows.FailurePasswordPolicy:
		return ErrPasswordPolicy
	case flows.FailurePasswordReuse:
		return ErrPasswordReuse
	case flows.FailureOldPasswordMismatch:
		return ErrOldPasswordMismatch
	case flows.FailurePasswordNotSet:
		return ErrPasswordNotSet
	case flows.FailureNoVerifiedEmail:
		return ErrNoVerifiedEmail
	case flows.FailureNoVerifiedMobile:
		return ErrNoVerifiedMobile
	case flows.FailureInvalidMFA:
		return ErrInvalidMFA
	case flows.FailureInvalidOTP:
		return ErrInvalidOTP
	case flows.FailureOTPExpired:
		return ErrOTPExpired
	case flows.FailureMFAExpired:
		return ErrMFAExpired
	case flows.FailureInvalidLink:
		return ErrInvalidLink
	case flows.FailureInvalidVerification:
		return ErrInvalidVerification
	case flows.FailureSessionNotBound:
		return ErrSessionNotBound
	case flows.FailureCloseCurrentSession:
		return ErrCloseCurrentSession
	case flows.FailureUnauthorized:
		return ErrUnauthorized
	case flows.FailureGLIDUnavailable:
		return ErrGLIDUnavailable
	case flows.FailureInvalidRegistration:
		return ErrInvalidRegistration
	case flows.FailureRegistrationIncomplete:
		return ErrRegistrationIncomplete
	case flows.FailureInvalidContact:
		return ErrInvalidContact
	}

	logging.LogErrorContext(ctx, e.logger, "glidauth: "+op+" failed", cause)
	if cause == nil {
		return ErrBackend
	}
	return fmt.Errorf("%w: %w", ErrBackend, cause)
}

func (e *Engine) backendError(ctx context.Context, op string, cause error) error {
	return e.flowError(ctx, op, flows.FailureBackend, cause)
}

func tokenPair(t flows.Tokens) *TokenPair {
	return &TokenPair{
		AccessToken:      t.Access.Value,
		RefreshToken:     t.Refresh.Value,
		AccessExpiresIn:  t.Access.ExpiresIn,
		RefreshExpiresIn: t.Refresh.ExpiresIn,
	}
}

func sessionView(sess *session.Session) *SessionView {
	view := &SessionView{
		ID:                  sess.ID,
		UserID:              sess.UserID,
		UserName:            sess.UserName,
		GLID:                sess.GLID,
		State:               string(sess.State),
		AuthenticationState: string(sess.AuthState),
		Start:               sess.StartedAt,
		LastAccess:          sess.LastAccess,
		IP:                  sess.Meta.IP,
		Location:            sess.Meta.Location,
		Device:              sess.Meta.Device,
		SystemType:          sess.Meta.SystemType,
	}
	if !sess.EndedAt.IsZero() {
		end := sess.EndedAt
		view.End = &end
	}
	if len(sess.PreAuth) > 0 {
		view.PreAuthentications = make([]PreAuthAttempt, len(sess.PreAuth))
		for i, p := range sess.PreAuth {
			view.PreAuthentications[i] = PreAuthAttempt{Time: p.Time, Attempt: p.Attempt, Details: p.Details}
		}
	}
	return view
}

func activationResult(status string, res flows.ActivationResult) *ActivationResult {
	return &ActivationResult{
		Status:    status,
		SessionID: res.SessionID,
		UserID:    res.UserID,
		AuthID:    res.AuthID,
		Tokens:    tokenPair(res.Tokens),
	}
}

func challengeTicket(res flows.ChallengeResult) *ChallengeTicket {
	return &ChallengeTicket{ID: res.ChallengeID, ExpiresAt: res.ExpiresAt, Reused: res.Reused}
}
