package goVerify

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/phone"
)

var errInvalidEmail = errors.New("invalid email address")

// normalizeOwner turns user input into the canonical owner reference for a
// channel: E.164 for OTP codes, a lower-cased bare address for email links.
func normalizeOwner(region string, channel uint8, raw string) (string, error) {
	switch channel {
	case flows.ChannelOTP:
		return phone.Normalize(raw, region)
	case flows.ChannelLink:
		return normalizeEmail(raw)
	default:
		return "", ErrChannelNotAllowed
	}
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 254 {
		return "", errInvalidEmail
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		return "", errInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

func maskOwner(channel uint8, ownerRef string) string {
	if channel == flows.ChannelLink {
		return maskEmail(ownerRef)
	}
	return phone.Mask(ownerRef)
}

// maskEmail keeps the first character of the local part and the domain:
// "alice@example.com" becomes "a****@example.com".
func maskEmail(addr string) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" || domain == "" {
		return "***"
	}
	return local[:1] + strings.Repeat("*", max(len(local)-1, 3)) + "@" + domain
}
