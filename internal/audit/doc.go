// Package audit implements async event dispatching for challenge and action
// token lifecycle events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, logrus, no-op, fan-out).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, challenge, masked owner, purpose.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit. The Engine and flow functions do.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goVerify or any sibling internal package.
//   - Receive plaintext secrets or unmasked owner references.
package audit
