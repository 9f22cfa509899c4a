// Package account defines the account record consumed by the authentication core and
// the directory contract used to look accounts up and mutate their lockout fields.
//
// # Architecture boundaries
//
// The directory is owned by the host application. authcore reads accounts by id or
// login name and mutates them only through [Directory.AtomicUpdate], which must apply
// the mutator exactly once under an exclusive per-account lock.
//
// # What this package must NOT do
//
//   - Hash or verify credentials.
//   - Decide lockout transitions (see internal/lockout).
//   - Import authcore or any sibling package.
package account
