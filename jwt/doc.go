// Package jwt verifies the bearer tokens that identify a signed-in account.
//
// goVerify uses it only to decide where a CHANGE_PASSWORD challenge goes: the
// phone number comes from the verified token, so a caller cannot have a code
// sent to an arbitrary number for someone else's account. Signing is kept for
// the demo server and tests.
package jwt
