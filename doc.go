// Package authcore is the authentication and session-security core of the casework
// service: credential verification, failed-attempt lockout, HS256 access and refresh
// tokens, token revocation and security audit events.
//
// Engine methods are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], the sentinel
// errors and value types. Flow orchestration, the lockout state machine, the login rate
// limit and audit dispatch live under internal/ and are never exported. Account storage is
// reached only through [account.Directory].
//
// # Failure model
//
// Login failures other than lockout return [ErrInvalidCredentials] so callers cannot tell
// an unknown login name from a wrong secret. Lockout is disclosed through [*LockedError],
// which carries a retry-after hint. A revocation store that cannot be reached rejects
// tokens with [ErrRevocationUnavailable]. Configuration problems surface only from Build
// and wrap [ErrConfiguration].
//
// # Concurrency
//
// Lockout bookkeeping runs inside Directory.AtomicUpdate, so concurrent failed attempts
// on one account are serialized and the transition into the locked state happens exactly
// once. Password hashing runs outside that critical section. A Revoke that has returned is
// visible to every later Verify.
package authcore
