package password

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ErrPolicy is wrapped by every [Policy.Validate] failure.
var ErrPolicy = errors.New("password does not meet policy")

// Policy is the strength rule applied to a new password before it is hashed.
type Policy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPolicy requires eight to 128 characters mixing upper case, lower
// case and digits.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		MaxLength:    128,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Validate returns nil or an error wrapping [ErrPolicy] that names the first
// rule the password breaks.
func (p Policy) Validate(password string) error {
	if !utf8.ValidString(password) {
		return fmt.Errorf("%w: not valid UTF-8", ErrPolicy)
	}

	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		return fmt.Errorf("%w: at least %d characters", ErrPolicy, p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return fmt.Errorf("%w: at most %d characters", ErrPolicy, p.MaxLength)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	switch {
	case p.RequireUpper && !upper:
		return fmt.Errorf("%w: needs an upper case letter", ErrPolicy)
	case p.RequireLower && !lower:
		return fmt.Errorf("%w: needs a lower case letter", ErrPolicy)
	case p.RequireDigit && !digit:
		return fmt.Errorf("%w: needs a digit", ErrPolicy)
	case p.RequireSymbol && !symbol:
		return fmt.Errorf("%w: needs a symbol", ErrPolicy)
	}
	return nil
}
