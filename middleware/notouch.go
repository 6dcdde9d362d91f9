package middleware

import (
	"net/http"

	"github.com/MrEthical07/glidauth"
)

// NoTouch guards a route with [glidauth.RouteNoTouch]: the session id must
// be present but lastAccessTime is left alone, so polling does not keep a
// session alive.
func NoTouch(engine *glidauth.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, glidauth.RouteNoTouch, opts...)
}
