// Package flows holds the orchestration behind every Engine operation.
//
// Each Run* function takes a Deps value and returns a result struct whose
// Failure field classifies what went wrong; the root package maps Failure
// to its public errors and emits audit events and metrics. Flows keep no
// state between calls and do no I/O except through Deps.
//
// Atomicity comes from the stores: the authentication upsert, activation,
// refresh rotation and session end are single Redis scripts, and every
// challenge channel flips from unverified to verified at most once.
// A flow that fails half way leaves a valid intermediate state, for
// example an identified session without an authentication.
package flows
