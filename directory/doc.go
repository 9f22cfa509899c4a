// Package directory provides account.Directory implementations.
//
//   - [Memory] keeps accounts in process with one mutex per account, so updates to
//     different accounts never contend.
//   - [Postgres] stores accounts in PostgreSQL through the pgx database/sql driver and
//     serializes updates with SELECT ... FOR UPDATE inside a transaction.
//
// Both commit a mutator's result only if it returns nil and the context is still live.
package directory
