//go:build verifydev

package devbypass

// Enabled reports whether this binary was built with the verifydev tag.
const Enabled = true

// FixedOTP returns the configured code when it has the expected length and
// the gateway is a sandbox.
func FixedOTP(configured string, digits int, sandbox bool) (string, bool) {
	if !sandbox || configured == "" || len(configured) != digits {
		return "", false
	}
	return configured, true
}
