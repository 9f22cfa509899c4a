// Package audit delivers security events to a caller-supplied sink.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, func, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics,
//     or a synchronous pass-through when Config.Synchronous is set.
//   - [Event]: structured record with timestamp, type, account, session, token, IP,
//     reason and metadata.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which events to emit;
// that belongs to the Engine and the flow functions.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authcore or any sibling internal package.
//   - Carry secrets: events never contain passwords or raw tokens.
package audit
