// Package middleware exposes HTTP adapters that put authcore token verification in
// front of handlers.
//
// # Guards
//
//   - [Guard] verifies the bearer access token and stores its claims in the request context.
//   - [RequireRole] rejects requests whose verified role is not in an allow list.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse tokens,
// touch the revocation store, or decide anything beyond what Engine.Validate returns.
package middleware
