package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	linkSecretSize  = 16
	actionTokenSize = 32
)

// LinkSecret is the 128-bit random part of an email link token.
type LinkSecret [linkSecretSize]byte

func NewChallengeID() string {
	return uuid.NewString()
}

func ParseChallengeID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

func NewLinkSecret() (LinkSecret, error) {
	var secret LinkSecret
	_, err := rand.Read(secret[:])
	return secret, err
}

func (s LinkSecret) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// EncodeLinkToken joins the challenge id and secret into the value placed in
// email links: "<challengeID>.<base64url secret>".
func EncodeLinkToken(challengeID, secret string) string {
	return challengeID + "." + secret
}

func DecodeLinkToken(token string) (string, string, error) {
	challengeID, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || challengeID == "" || secret == "" {
		return "", "", errors.New("invalid link token format")
	}
	if _, err := ParseChallengeID(challengeID); err != nil {
		return "", "", err
	}
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil {
		return "", "", err
	}
	if len(raw) != linkSecretSize {
		return "", "", errors.New("invalid link secret size")
	}
	return challengeID, secret, nil
}

// NewActionTokenID returns an unguessable 256-bit token id, base64url encoded.
func NewActionTokenID() (string, error) {
	var raw [actionTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func ValidActionTokenID(tokenID string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(tokenID)
	return err == nil && len(raw) == actionTokenSize
}

// HashActionTokenID derives the storage key material for an action token so
// that a store dump never contains redeemable ids.
func HashActionTokenID(tokenID string) [32]byte {
	return sha256.Sum256([]byte(tokenID))
}

// HashSecret binds the plaintext secret to its challenge with HMAC-SHA256.
// The challenge id acts as domain separator so identical codes issued to
// different challenges never share a hash.
func HashSecret(pepper []byte, challengeID, secret string) [32]byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(challengeID))
	mac.Write([]byte{0})
	mac.Write([]byte(secret))

	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func NewPepper() ([]byte, error) {
	pepper := make([]byte, 32)
	if _, err := rand.Read(pepper); err != nil {
		return nil, err
	}
	return pepper, nil
}

func IsNumeric(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
