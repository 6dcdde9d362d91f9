package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrEthical07/glidauth"
)

const (
	// SessionCookie carries the session id.
	SessionCookie = "session-id"
	// AccessCookie carries the access token.
	AccessCookie = "access-token"
	// SessionHeader is accepted where clients cannot send cookies.
	SessionHeader = "X-Session-ID"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the gate result stored by a guard.
func AuthResultFromContext(ctx context.Context) (*glidauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*glidauth.AuthResult)
	return res, ok
}

// WithAuthResult stores res in ctx the way a guard does.
func WithAuthResult(ctx context.Context, res *glidauth.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// ErrorHandler renders a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Option configures a guard.
type Option func(*guardOptions)

type guardOptions struct {
	onError ErrorHandler
}

// WithErrorHandler replaces the default JSON rejection.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *guardOptions) {
		if h != nil {
			o.onError = h
		}
	}
}

// Credentials extracts the session id and access token of r.
func Credentials(r *http.Request) (sessionID, token string) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		sessionID = c.Value
	}
	if sessionID == "" {
		sessionID = r.Header.Get(SessionHeader)
	}

	if t, ok := BearerToken(r.Header.Get("Authorization")); ok {
		return sessionID, t
	}
	if c, err := r.Cookie(AccessCookie); err == nil {
		token = c.Value
	}
	return sessionID, token
}

// Guard resolves the session of every request for mode and rejects the
// request when the engine does.
func Guard(engine *glidauth.Engine, mode glidauth.RouteMode, opts ...Option) func(http.Handler) http.Handler {
	o := guardOptions{onError: writeError}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				o.onError(w, r, glidauth.ErrEngineNotReady)
				return
			}

			sessionID, token := Credentials(r)
			res, err := engine.Authorize(r.Context(), mode, sessionID, token)
			if err != nil {
				o.onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

// StatusOf maps an engine error to its HTTP status.
func StatusOf(err error) int {
	switch glidauth.KindOf(err) {
	case glidauth.KindInvalidInput, glidauth.KindExpired:
		return http.StatusBadRequest
	case glidauth.KindUnauthorized:
		return http.StatusUnauthorized
	case glidauth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusOf(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"message": glidauth.PublicMessage(err)})
}

// BearerToken extracts the token of an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
