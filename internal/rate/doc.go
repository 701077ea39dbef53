// Package rate provides the Redis fixed-window counter used by the
// domain limiters in internal/limiters.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. A hit that
// pushes the counter past the window limit fails with [ErrRateLimited] and
// reports the remaining window TTL as retry-after.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the goVerify module.
package rate
