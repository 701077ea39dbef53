//go:build !verifydev

package devbypass

// Enabled reports whether this binary was built with the verifydev tag.
const Enabled = false

// FixedOTP never returns a code in release builds.
func FixedOTP(string, int, bool) (string, bool) {
	return "", false
}
