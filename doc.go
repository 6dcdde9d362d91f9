// Package glidauth is a session and authentication engine for users keyed by
// a global login identifier (GLID).
//
// An anonymous browser session is created first, identified by a password
// login or an OTP request, and activated once every required factor has been
// verified: a password for users without a verified contact, otherwise an
// emailed or texted code or a followed magic link. Activation mints a JWT
// access token and a refresh token and binds them to the session's single
// Authentication record. Engine methods are safe to call from multiple
// goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// glidauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Orchestration lives in internal/flows and persistence in
// session and internal/stores; neither is visible to callers. Users come
// from a [directory.Directory] and notifications leave through a
// [notify.Notifier].
//
// # Consistency
//
// There are no in-process locks. Every state change that must be atomic is
// a single Redis script: the authentication upsert, activation, refresh
// rotation, session end and each challenge channel's verification flag.
// A flow that stops half way leaves a valid intermediate state.
package glidauth
