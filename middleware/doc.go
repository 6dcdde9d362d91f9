// Package middleware adapts the glidauth authorization gate to net/http.
//
// # Guards
//
//   - [Guard] resolves the session for an explicit [glidauth.RouteMode].
//   - [RequireSession] touches the session and rejects unknown ones.
//   - [RequireRestricted] also requires an access token bound to the session.
//   - [NoTouch] only requires a session id and never updates the session.
//
// Credentials come from the session-id and access-token cookies. A bearer
// Authorization header takes precedence over the cookie token. The resolved
// [glidauth.AuthResult] is stored in the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine.Authorize calls. It
// does not parse tokens or touch Redis itself.
package middleware
