// Package internal contains helper utilities that are intentionally private to goVerify,
// including challenge id generation, OTP and link secret generation, and keyed secret hashing.
//
// # Sub-packages
//
//   - accounts: account store used by cmd/verifyd (Postgres via sqlx, in-memory)
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: process configuration for cmd/verifyd (viper)
//   - devbypass: build-tag gated fixed OTP for sandbox gateways
//   - flows: pure-function flow orchestrators for issue, verify and redeem
//   - limiters: fixed-window throttles for issuance, verification and redemption
//   - rate: core Redis-backed fixed-window counter
//   - stores: Redis challenge and action token stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public goVerify API.
//   - Log, persist or return plaintext secrets outside the generating call.
package internal
