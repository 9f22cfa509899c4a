// Package flows contains the orchestration behind every Engine operation.
//
// Each flow function (RunLogin, RunVerify, RunRefresh, ...) accepts a typed
// dependency struct and returns results without side effects beyond those
// dependencies. The Engine builds the dependency structs once and stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate the account directory, credential hasher, lockout state
// machine, token manager, revocation store, audit and metrics. They do NOT own any of
// these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
//   - Put secrets or raw tokens into audit entries.
package flows
