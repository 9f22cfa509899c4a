// Package lockout implements the per-account failed-login state machine.
//
// State is never stored explicitly. It is computed on demand from the account's
// FailedAttempts and LockedUntil fields, so an expired lock reverts to Active the next
// time the account is evaluated without any background timer.
//
// # Architecture boundaries
//
// Functions here are pure transitions over an [account.Account] value. Serializing
// concurrent transitions on the same account is the directory's job: callers apply
// these functions inside account.Directory.AtomicUpdate.
package lockout
