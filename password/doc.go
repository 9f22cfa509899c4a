// Package password implements credential hashing and verification.
//
// # Output format
//
// New hashes are Argon2id PHC strings by default:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes ($2a$, $2b$, $2y$) written by earlier deployments still verify. The
// [Hasher] dispatches on the stored prefix and reports through [Hasher.NeedsRehash]
// when a stored hash uses another scheme or weaker parameters, so the caller can
// re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length, reuse)
// is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
