package goVerify

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/stores"
)

var (
	// ErrEngineNotReady is returned by every operation on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidInput reports a malformed owner reference, code, purpose or
	// channel. No state is mutated.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPurposeDisabled is returned when the purpose policy is switched off.
	ErrPurposeDisabled = errors.New("purpose disabled")
	// ErrChannelNotAllowed is returned when the purpose does not offer the channel.
	ErrChannelNotAllowed = errors.New("channel not allowed for purpose")
	// ErrSubjectNotFound is returned by a SubjectResolver for unknown owners.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrRateLimited is the sentinel behind [*RateLimitError].
	ErrRateLimited = errors.New("rate limited")
	// ErrDeliveryFailed means the gateway rejected the secret. The challenge
	// was rolled back and issuing again is safe immediately.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrNotFound is returned for unknown challenge or token ids.
	ErrNotFound = errors.New("not found")
	// ErrExpired is returned when a challenge is past its expiry.
	ErrExpired = errors.New("challenge expired")
	// ErrAlreadyFinalized is returned for a challenge that is no longer PENDING.
	ErrAlreadyFinalized = errors.New("challenge already finalized")
	// ErrInvalidCode is the sentinel behind [*InvalidCodeError].
	ErrInvalidCode = errors.New("invalid code")
	// ErrTokenExpired is returned when an action token is past its expiry.
	ErrTokenExpired = errors.New("action token expired")
	// ErrAlreadyConsumed is returned when an action token was already redeemed.
	ErrAlreadyConsumed = errors.New("action token already consumed")
	// ErrPurposeMismatch is returned when a token is redeemed for a purpose
	// other than the one it was minted for. The token is not consumed.
	ErrPurposeMismatch = errors.New("action token purpose mismatch")
	// ErrStaleState reports a lost compare-and-set race that survived the retry.
	ErrStaleState = errors.New("stale state")
	// ErrActionFailed wraps an error returned by a [MutationFunc]. The token
	// stays consumed.
	ErrActionFailed = errors.New("protected action failed")
	// ErrUnavailable reports a backend (Redis, random source) failure.
	ErrUnavailable = errors.New("verification backend unavailable")
)

// RateLimitError carries the wait before another issuance is accepted and,
// when a cooldown is the cause, the id of the challenge still PENDING so a
// client can keep entering the code it already received.
type RateLimitError struct {
	RetryAfter     time.Duration
	ChallengeID    string
	MaskedOwnerRef string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", e.RetryAfterSeconds())
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (e *RateLimitError) RetryAfterSeconds() int {
	s := ceilSeconds(e.RetryAfter)
	if s < 1 {
		return 1
	}
	return s
}

// InvalidCodeError reports a mismatched secret. AttemptsRemaining is zero
// once the challenge has failed.
type InvalidCodeError struct {
	AttemptsRemaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid code: %d attempts remaining", e.AttemptsRemaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }

// RetryAfter extracts the retry hint from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// AttemptsRemaining extracts the remaining attempts from an invalid code error.
func AttemptsRemaining(err error) (int, bool) {
	var ic *InvalidCodeError
	if errors.As(err, &ic) {
		return ic.AttemptsRemaining, true
	}
	return 0, false
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrTokenNotFound):
		return ErrNotFound
	case errors.Is(err, stores.ErrChallengeStale), errors.Is(err, stores.ErrTokenStale):
		return ErrStaleState
	case errors.Is(err, stores.ErrTokenDuplicate):
		return ErrAlreadyFinalized
	case errors.Is(err, limiters.ErrIssueRateLimited),
		errors.Is(err, limiters.ErrVerifyRateLimited),
		errors.Is(err, limiters.ErrRedeemRateLimited):
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
