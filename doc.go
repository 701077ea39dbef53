// Package goVerify issues and verifies short-lived out-of-band challenges
// (WhatsApp OTP codes and email link tokens) and the single-use action tokens
// they unlock.
//
// A challenge is created by [Engine.Issue] for an owner reference (phone
// number or email address) and a [Purpose]. Its secret is delivered through a
// [DeliveryGateway] and only a keyed hash is stored. [Engine.Verify] compares
// a submitted secret against that hash; a match consumes the challenge and
// returns an action token that [Engine.Redeem] exchanges, exactly once, for a
// protected state change.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. Every state change is a
// compare-and-set on a single Redis key; there is no process-wide lock.
//
// # Architecture boundaries
//
// goVerify is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types. Flow orchestration, record encoding,
// throttling and audit dispatch live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Store, log or audit a plaintext secret or an action token id.
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Import any sub-package that re-imports goVerify (no import cycles).
package goVerify
