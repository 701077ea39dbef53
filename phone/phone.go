package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var (
	ErrInvalidNumber = errors.New("invalid phone number")
	ErrInvalidRegion = errors.New("invalid default region")
)

// Normalize parses raw in defaultRegion and returns its E.164 form. Spaces,
// dashes and parentheses are accepted; letters are not.
func Normalize(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 32 {
		return "", ErrInvalidNumber
	}
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
		case r == '+', r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", ErrInvalidNumber
		}
	}

	region := strings.ToUpper(strings.TrimSpace(defaultRegion))
	if phonenumbers.GetCountryCodeForRegion(region) == 0 {
		return "", ErrInvalidRegion
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", ErrInvalidNumber
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Mask hides the middle digits of an E.164 number, keeping the country code
// with the first digits and the last three: "+6281234567890" becomes
// "+62812*****890".
func Mask(e164 string) string {
	if !strings.HasPrefix(e164, "+") || len(e164) < 8 {
		return "***"
	}
	const head, tail = 6, 3
	if len(e164) <= head+tail {
		return e164[:3] + strings.Repeat("*", len(e164)-3)
	}
	return e164[:head] + strings.Repeat("*", len(e164)-head-tail) + e164[len(e164)-tail:]
}
