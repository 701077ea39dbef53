//go:build verifydev

package devbypass

import "testing"

func TestDevBuildRequiresSandbox(t *testing.T) {
	if _, ok := FixedOTP("000000", 6, false); ok {
		t.Fatal("fixed code must not be used with a live gateway")
	}
	if _, ok := FixedOTP("0000", 6, true); ok {
		t.Fatal("fixed code with the wrong length must be ignored")
	}
	code, ok := FixedOTP("000000", 6, true)
	if !ok || code != "000000" {
		t.Fatalf("expected fixed code with sandbox gateway, got %q %v", code, ok)
	}
}
