// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunIssue, RunVerify, RunRedeem, etc.) accepts a typed
// dependency struct and returns results without side-effects beyond those
// dependencies. Flows can be unit tested with stub dependencies and the
// Engine type stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the challenge and action token stores,
// throttles, the delivery gateway, audit and metrics. They do NOT own any of
// these resources; ownership stays with the Engine. Record types come from
// internal/stores so that store semantics (lazy expiry, stale-state
// reporting) are shared rather than mirrored.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goVerify (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
//   - Log or return plaintext secrets except the minted action token id.
package flows
