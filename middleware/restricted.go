package middleware

import (
	"net/http"

	"github.com/MrEthical07/glidauth"
)

// RequireSession guards a route with [glidauth.RouteStandard].
func RequireSession(engine *glidauth.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, glidauth.RouteStandard, opts...)
}

// RequireRestricted guards a route with [glidauth.RouteRestricted].
func RequireRestricted(engine *glidauth.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, glidauth.RouteRestricted, opts...)
}
