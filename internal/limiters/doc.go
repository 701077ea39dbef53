// Package limiters provides the verification throttles built on top of the
// internal/rate fixed-window counter.
//
// # Limiters
//
//   - [IssueLimiter]: per (owner, purpose) and per-IP budget for issuance and resend.
//   - [VerifyLimiter]: per-challenge and per-IP budget for proof submissions.
//   - [RedeemLimiter]: per-IP budget for action token redemption.
//
// These sit on top of the protocol-level cooldown and attempt counters kept in
// the challenge record; they bound abuse that spreads across many challenges.
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import goVerify or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters
