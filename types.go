package goVerify

import (
	"context"
	"time"
)

// Purpose names the protected action a challenge unlocks. A token minted for
// one purpose can never be redeemed for another.
type Purpose string

const (
	// PurposeChangePassword gates a password change for a signed-in account.
	PurposeChangePassword Purpose = "CHANGE_PASSWORD"
	// PurposeForgotPassword gates a password reset for a signed-out account.
	PurposeForgotPassword Purpose = "FORGOT_PASSWORD"
	// PurposeDealerPhoneVerify gates marking a dealer application phone as verified.
	PurposeDealerPhoneVerify Purpose = "DEALER_PHONE_VERIFY"
)

// Purposes lists every known purpose in a stable order.
func Purposes() []Purpose {
	return []Purpose{PurposeChangePassword, PurposeForgotPassword, PurposeDealerPhoneVerify}
}

func (p Purpose) code() uint8 {
	switch p {
	case PurposeChangePassword:
		return 1
	case PurposeForgotPassword:
		return 2
	case PurposeDealerPhoneVerify:
		return 3
	default:
		return 0
	}
}

func purposeFromCode(code uint8) Purpose {
	switch code {
	case 1:
		return PurposeChangePassword
	case 2:
		return PurposeForgotPassword
	case 3:
		return PurposeDealerPhoneVerify
	default:
		return ""
	}
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p.code() != 0
}

// Channel is the out-of-band transport of a challenge secret.
type Channel string

const (
	// ChannelOTP delivers a short numeric code, typically over WhatsApp.
	ChannelOTP Channel = "OTP_CODE"
	// ChannelLink delivers a 128-bit random token embedded in an email link.
	ChannelLink Channel = "LINK_TOKEN"
)

func (c Channel) code() uint8 {
	switch c {
	case ChannelOTP:
		return 1
	case ChannelLink:
		return 2
	default:
		return 0
	}
}

func channelFromCode(code uint8) Channel {
	switch code {
	case 1:
		return ChannelOTP
	case 2:
		return ChannelLink
	default:
		return ""
	}
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c.code() != 0
}

// ChallengeStatus is the lifecycle state of a challenge as seen by callers.
// Expiry is applied at read time.
type ChallengeStatus string

const (
	ChallengePending    ChallengeStatus = "PENDING"
	ChallengeVerified   ChallengeStatus = "VERIFIED"
	ChallengeConsumed   ChallengeStatus = "CONSUMED"
	ChallengeExpired    ChallengeStatus = "EXPIRED"
	ChallengeFailed     ChallengeStatus = "FAILED"
	ChallengeSuperseded ChallengeStatus = "SUPERSEDED"
)

// TokenStatus is the lifecycle state of an action token.
type TokenStatus string

const (
	TokenIssued   TokenStatus = "ISSUED"
	TokenConsumed TokenStatus = "CONSUMED"
	TokenExpired  TokenStatus = "EXPIRED"
)

// IssueResult is returned by [Engine.Issue] and [Engine.Resend]. It never
// contains the secret.
type IssueResult struct {
	ChallengeID     string
	MaskedOwnerRef  string
	Channel         Channel
	CooldownSeconds int
	ExpiresAt       time.Time
}

// VerifyResult is returned by a successful [Engine.Verify]. ActionTokenID is
// the only copy of the token id; the store keeps only its hash.
type VerifyResult struct {
	ActionTokenID string
	Purpose       Purpose
	ExpiresAt     time.Time
}

// ActionTokenInfo describes a token without consuming it.
type ActionTokenInfo struct {
	SourceChallengeID string
	Purpose           Purpose
	SubjectRef        string
	Status            TokenStatus
	ExpiresAt         time.Time
}

// ChallengeInfo describes a challenge without its secret material.
type ChallengeInfo struct {
	ID                  string
	MaskedOwnerRef      string
	Purpose             Purpose
	Channel             Channel
	Status              ChallengeStatus
	CreatedAt           time.Time
	ExpiresAt           time.Time
	NextResendAllowedAt time.Time
	AttemptCount        int
	MaxAttempts         int
	ResendCount         int
}

// MutationFunc performs the protected state change for the token subject.
// It runs after the token has been consumed; an error is reported as
// [ErrActionFailed] and the token stays consumed.
type MutationFunc func(ctx context.Context, subjectRef string) error

// Subject is the account a challenge is issued for.
type Subject struct {
	// Ref identifies the account in the caller's store. It is what
	// [MutationFunc] receives.
	Ref string
	// Destination overrides the delivery address. Empty means the
	// normalized owner reference.
	Destination string
}

// SubjectResolver maps an owner reference (phone number or email) to the
// account it belongs to. Implementations return [ErrSubjectNotFound] for
// unknown owners.
type SubjectResolver interface {
	ResolveSubject(ctx context.Context, purpose Purpose, ownerRef string) (Subject, error)
}

// SubjectResolverFunc adapts a function to [SubjectResolver].
type SubjectResolverFunc func(ctx context.Context, purpose Purpose, ownerRef string) (Subject, error)

func (f SubjectResolverFunc) ResolveSubject(ctx context.Context, purpose Purpose, ownerRef string) (Subject, error) {
	return f(ctx, purpose, ownerRef)
}

// Message is one secret delivery. Secret is the plaintext OTP or link token
// and must not be logged. Link is set for [ChannelLink] when the purpose has
// a LinkBaseURL.
type Message struct {
	ChallengeID string
	Purpose     Purpose
	Channel     Channel
	Destination string
	Secret      string
	Link        string
	ExpiresAt   time.Time
}

// DeliveryGateway sends secrets out of band. Deliver must return only after
// the transport accepted the message.
type DeliveryGateway interface {
	Deliver(ctx context.Context, msg Message) error
}

// SandboxGateway is implemented by gateways that never reach real users.
// Development bypasses are only honoured for such gateways.
type SandboxGateway interface {
	Sandbox() bool
}

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
