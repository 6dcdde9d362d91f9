package glidauth

import (
	"context"
	"strings"

	"github.com/MrEthical07/glidauth/internal/flows"
	"github.com/MrEthical07/glidauth/session"
)

// CreateSession returns the caller's current session when it has neither
// ended nor timed out, and otherwise starts a new unidentified one. Empty
// meta fields are filled from the request context and the Locator.
func (e *Engine) CreateSession(ctx context.Context, currentSessionID string, meta SessionMeta) (*CreateSessionResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	m := e.sessionMeta(ctx, meta)
	res := flows.RunCreateSession(ctx, currentSessionID, m, e.deps)
	if res.Failure != flows.FailureNone {
		return nil, e.flowError(ctx, "create session", res.Failure, res.Err)
	}

	if res.Reused {
		e.metricInc(MetricSessionReused)
	} else {
		e.metricInc(MetricSessionCreated)
		e.emitAudit(ctx, auditEventSessionCreated, true, "", res.Session.ID, nil, func() map[string]string {
			return map[string]string{"location": m.Location, "system_type": m.SystemType}
		})
	}
	return &CreateSessionResult{SessionID: res.Session.ID, Reused: res.Reused}, nil
}

func (e *Engine) sessionMeta(ctx context.Context, meta SessionMeta) session.Meta {
	m := session.Meta{
		IP:         meta.IP,
		Location:   meta.Location,
		Device:     meta.Device,
		SystemType: meta.SystemType,
	}
	if m.IP == "" {
		m.IP = clientIPFromContext(ctx)
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if m.Device == "" {
			m.Device = deviceOf(ua)
		}
		if m.SystemType == "" {
			m.SystemType = systemTypeOf(ua)
		}
	}
	if m.Location == "" && m.IP != "" && e.locator != nil {
		loc, err := e.locator.Locate(ctx, m.IP)
		if err != nil {
			e.logger.WarnContext(ctx, "glidauth: ip lookup failed", "error", err)
		} else {
			m.Location = loc
		}
	}
	return m
}

func systemTypeOf(ua string) string {
	switch {
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Mac OS"):
		return "macOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}

func deviceOf(ua string) string {
	switch {
	case strings.Contains(ua, "Mobile"), strings.Contains(ua, "iPhone"), strings.Contains(ua, "Android"):
		return "mobile"
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"):
		return "tablet"
	default:
		return "desktop"
	}
}

// SessionState reports {state:"Active", ref, lastAccessTime} for an
// activated session and {state:"pending"} otherwise.
func (e *Engine) SessionState(ctx context.Context, sessionID string) (*SessionState, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	res := flows.RunSessionState(ctx, sessionID, e.deps)
	if res.Failure != flows.FailureNone {
		return nil, e.flowError(ctx, "session state", res.Failure, res.Err)
	}
	if !res.Active {
		return &SessionState{State: "pending"}, nil
	}
	return &SessionState{State: string(session.StateActive), Ref: res.Ref, LastAccess: res.LastAccess}, nil
}

// SessionDetail returns a session of userID. A timed out session is
// reported as ErrSessionTimeout, never as data.
func (e *Engine) SessionDetail(ctx context.Context, sessionID, userID string) (*SessionView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := flows.RunSessionDetail(ctx, sessionID, userID, e.deps)
	if res.Failure != flows.FailureNone {
		return nil, e.flowError(ctx, "session detail", res.Failure, res.Err)
	}
	return sessionView(res.Session), nil
}

// ExpiredChallenges records every challenge of the session that expired
// unverified as a "2FA code expired" pre-authentication failure. It returns
// how many entries were added; each challenge is recorded once.
func (e *Engine) ExpiredChallenges(ctx context.Context, sessionID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if sessionID == "" {
		return 0, ErrMissingSessionID
	}

	res := flows.RunExpiredChallenges(ctx, sessionID, e.deps)
	if res.Failure != flows.FailureNone {
		return res.Logged, e.flowError(ctx, "expired challenges", res.Failure, res.Err)
	}
	if res.Logged > 0 {
		e.metrics.Add(MetricOTPExpired, uint64(res.Logged))
		e.emitAudit(ctx, auditEventExpiredChallenges, true, "", sessionID, nil, nil)
	}
	return res.Logged, nil
}

// Logout ends the caller's session. The session becomes Inactive and its
// authentication LoggedOut in one step.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if sessionID == "" {
		return ErrMissingSessionID
	}

	res := flows.RunLogout(ctx, sessionID, e.deps)
	err := e.flowError(ctx, "logout", res.Failure, res.Err)
	e.emitAudit(ctx, auditEventLogout, err == nil, res.UserID, sessionID, err, nil)
	if err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	return nil
}

// CloseSession ends another session of userID. Targeting the current
// session fails with ErrCloseCurrentSession.
func (e *Engine) CloseSession(ctx context.Context, currentSessionID, targetSessionID, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if targetSessionID == "" {
		return ErrMissingSessionID
	}

	res := flows.RunCloseSession(ctx, currentSessionID, targetSessionID, userID, e.deps)
	err := e.flowError(ctx, "close session", res.Failure, res.Err)
	e.emitAudit(ctx, auditEventCloseSession, err == nil, userID, targetSessionID, err, func() map[string]string {
		return map[string]string{"closed_by": currentSessionID}
	})
	if err != nil {
		return err
	}
	e.metricInc(MetricSessionClosed)
	return nil
}

// CloseAllSessions ends every other Active session of userID and returns
// how many were closed.
func (e *Engine) CloseAllSessions(ctx context.Context, currentSessionID, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, ErrInvalidSession
	}

	res := flows.RunCloseAll(ctx, currentSessionID, userID, e.deps)
	err := e.flowError(ctx, "close all sessions", res.Failure, res.Err)
	e.emitAudit(ctx, auditEventCloseAll, err == nil, userID, currentSessionID, err, func() map[string]string {
		return map[string]string{"closed": strings.Join(res.Closed, ",")}
	})
	if err != nil {
		return len(res.Closed), err
	}
	e.metricInc(MetricCloseAll)
	e.metrics.Add(MetricSessionClosed, uint64(len(res.Closed)))
	return len(res.Closed), nil
}

// Refresh rotates the token pair of an Active session. The presented
// refresh token stops working immediately; of several concurrent refreshes
// with the same token exactly one succeeds.
func (e *Engine) Refresh(ctx context.Context, sessionID, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	res := flows.RunRefresh(ctx, sessionID, refreshToken, e.deps)
	if err := e.flowError(ctx, "refresh", res.Failure, res.Err); err != nil {
		e.metricInc(MetricRefreshFailure)
		if res.Failure == flows.FailureSessionTimeout {
			e.metricInc(MetricSessionTimeout)
			e.emitAudit(ctx, auditEventSessionTimeout, false, res.UserID, sessionID, err, nil)
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, sessionID, err, nil)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, sessionID, nil, nil)
	return tokenPair(res.Tokens), nil
}
