// Package devbypass gates the fixed development OTP.
//
// The bypass only exists in binaries built with the verifydev tag. Release
// builds compile the stub in bypass_release.go, where Enabled is false and
// FixedOTP never returns a code, whatever the configuration says. Even in a
// verifydev build the fixed code is only used when the delivery gateway
// reports itself as a sandbox, so it cannot reach a live channel.
package devbypass
