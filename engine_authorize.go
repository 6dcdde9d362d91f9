package glidauth

import (
	"context"
	"time"

	"github.com/MrEthical07/glidauth/internal/flows"
)

// Authorize resolves the session of a request for the given route mode.
//
// RoutePublic never fails. RouteNoTouch only requires a session id and
// writes nothing. RouteStandard requires an existing session and advances
// its lastAccessTime. RouteRestricted additionally requires an access token
// issued to the same Active session. An Active session past its inactivity
// window is expired on the spot; the returned result then has TimedOut set
// alongside ErrSessionTimeout.
func (e *Engine) Authorize(ctx context.Context, mode RouteMode, sessionID, accessToken string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
		}
	}()

	res := flows.RunAuthorize(ctx, flows.AuthorizeRequest{
		Mode:      flowMode(mode),
		SessionID: sessionID,
		Token:     accessToken,
	}, e.deps)
	out := &AuthResult{
		SessionID: res.SessionID,
		UserID:    res.UserID,
		UserName:  res.UserName,
		TimedOut:  res.TimedOut,
		Touched:   res.Touched,
	}

	if err := e.flowError(ctx, "authorize", res.Failure, res.Err); err != nil {
		e.metricInc(MetricAuthorizeDenied)
		if res.TimedOut {
			e.metricInc(MetricSessionTimeout)
			e.emitAudit(ctx, auditEventSessionTimeout, false, res.UserID, res.SessionID, err, nil)
		}
		return out, err
	}
	e.metricInc(MetricAuthorizeAllowed)
	return out, nil
}

func flowMode(mode RouteMode) flows.Mode {
	switch mode {
	case RoutePublic:
		return flows.ModePublic
	case RouteStandard:
		return flows.ModeStandard
	case RouteNoTouch:
		return flows.ModeNoTouch
	default:
		return flows.ModeRestricted
	}
}
