// Package httpapi serves the glidauth engine over HTTP with echo.
//
// Routes live under /auth, /registration and /securityPolicy. Each route is
// guarded with one of the engine's route modes through the middleware
// package. Failures are rendered as
//
//	{"data":{"statusCode":..,"error":..,"path":..,"method":..,"timeStamp":..,"message":..},"succeeded":false}
//
// and successes return the operation's own JSON body. Session and token
// cookies are readable by scripts, Secure and SameSite=None.
package httpapi
