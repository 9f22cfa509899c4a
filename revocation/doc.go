// Package revocation holds the registry of revoked token identifiers.
//
// # Stores
//
//   - [Memory]: mutex-guarded map for single-instance deployments. Expired entries are
//     swept on insert every SweepEvery revocations and optionally by [Memory.Run].
//   - [Redis]: one key per jti with a TTL equal to the token's remaining lifetime, for
//     deployments where several instances must share revocations.
//
// Entries never outlive their token: once exp has passed the token is rejected as
// expired regardless, so an expired entry is equivalent to an absent one.
//
// A successful Revoke is visible to every IsRevoked call that starts after it returns.
package revocation
