// Package stores provides Redis-backed stores for verification challenges and
// the single-use action tokens minted from them.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis. Records
// outlive their logical expiry by a retention window so that callers can tell
// EXPIRED and ALREADY_FINALIZED apart from NOT_FOUND. Expiry is lazy: reads
// report a PENDING (or ISSUED) record past its deadline as EXPIRED.
//
// All mutations go through a compare-and-transition primitive built on
// WATCH/MULTI. A transaction that loses a race is retried a bounded number of
// times; a status mismatch surfaces as a stale-state error with the current
// record attached.
//
// The challenge store also keeps an (owner, purpose) index pointing at the
// latest issuance. Put refuses to replace an index entry whose challenge is
// still PENDING, which keeps at most one PENDING challenge per pair.
//
// # What this package must NOT do
//
//   - Import goVerify or any sibling internal package.
//   - Store plaintext secrets or plaintext action token ids.
//   - Decide rate limits, attempt policy, or delivery.
package stores
