// Package internal holds helpers private to glidauth: identifier and code
// generation, and token digests used as index keys.
//
// # Sub-packages
//
//   - flows: one orchestrator per Engine operation
//   - stores: Redis records for authentications, challenges and pending registrations
//   - queue: bounded worker queue behind the audit and notification dispatchers
//   - logging: slog setup with trace context and oops-aware error logging
//   - observability: metrics and health probe HTTP server
package internal
