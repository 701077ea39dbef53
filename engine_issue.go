package goVerify

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/internal"
	"github.com/MrEthical07/goVerify/internal/devbypass"
	internalflows "github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/stores"
)

// Issue creates a challenge for (ownerRef, purpose) and delivers its secret
// over channel. An empty channel picks the first channel of the purpose
// policy that ownerRef parses as. Any PENDING challenge for the same pair is
// superseded.
//
// Issue returns a [*RateLimitError] while the previous challenge's resend
// cooldown is running, and [ErrDeliveryFailed] when the gateway rejects the
// message; in that case nothing is left behind and the call may be repeated.
func (e *Engine) Issue(ctx context.Context, ownerRef string, purpose Purpose, channel Channel) (*IssueResult, error) {
	if channel != "" && !channel.Valid() {
		return nil, ErrInvalidInput
	}
	return e.issue(ctx, internalflows.IssueRequest{
		OwnerRef: ownerRef,
		Purpose:  purpose.code(),
		Channel:  channel.code(),
	})
}

// Resend issues a fresh challenge on the channel of the latest one for the
// pair. Cooldown rules are identical to [Engine.Issue].
func (e *Engine) Resend(ctx context.Context, ownerRef string, purpose Purpose) (*IssueResult, error) {
	return e.issue(ctx, internalflows.IssueRequest{
		OwnerRef: ownerRef,
		Purpose:  purpose.code(),
		Resend:   true,
	})
}

func (e *Engine) issue(ctx context.Context, req internalflows.IssueRequest) (*IssueResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if req.Purpose == 0 {
		return nil, ErrInvalidInput
	}

	out, err := internalflows.RunIssue(ctx, req, e.issueFlowDeps())
	if err != nil {
		return nil, err
	}
	return &IssueResult{
		ChallengeID:     out.ChallengeID,
		MaskedOwnerRef:  out.MaskedOwnerRef,
		Channel:         channelFromCode(out.Channel),
		CooldownSeconds: ceilSeconds(out.Cooldown),
		ExpiresAt:       out.ExpiresAt,
	}, nil
}

func (e *Engine) issueFlowDeps() internalflows.IssueDeps {
	cfg := e.config

	deps := internalflows.IssueDeps{
		Policy:              e.flowPolicy,
		TenantIDFromContext: tenantIDFromContext,
		ClientIPFromContext: clientIPFromContext,
		Now:                 e.now,
		NormalizeOwner: func(channel uint8, ownerRef string) (string, error) {
			return normalizeOwner(cfg.Phone.DefaultRegion, channel, ownerRef)
		},
		MaskOwner:    maskOwner,
		CheckLimiter: e.issueLimiter.Check,
		IsLimited: func(err error) bool {
			return errors.Is(err, limiters.ErrIssueRateLimited)
		},
		NewChallengeID: internal.NewChallengeID,
		GenerateSecret: e.generateSecret,
		HashSecret:     e.hashSecret,
		Latest:         e.challenges.Latest,
		Supersede: func(ctx context.Context, tenantID, challengeID string) error {
			_, err := e.challenges.CompareAndTransition(ctx, tenantID, challengeID, stores.ChallengePending, func(r *stores.ChallengeRecord) error {
				r.Status = stores.ChallengeSuperseded
				return nil
			})
			return err
		},
		Put:      e.challenges.Put,
		Rollback: e.rollbackChallenge,
		Deliver:  e.deliver,
		IsNotFound: func(err error) bool {
			return errors.Is(err, stores.ErrChallengeNotFound)
		},
		IsConflict: func(err error) bool {
			return errors.Is(err, stores.ErrChallengeConflict)
		},
		IsStale: func(err error) bool {
			return errors.Is(err, stores.ErrChallengeStale)
		},
		MapStoreError: mapStoreError,
		RateLimited: func(retryAfter time.Duration, challengeID, maskedOwnerRef string) error {
			return &RateLimitError{
				RetryAfter:     retryAfter,
				ChallengeID:    challengeID,
				MaskedOwnerRef: maskedOwnerRef,
			}
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		Observe: func(id int, d time.Duration) {
			e.observe(MetricID(id), d)
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.IssueMetrics{
			Issued:          int(MetricChallengeIssued),
			Resent:          int(MetricChallengeResent),
			RateLimited:     int(MetricIssueRateLimited),
			DeliveryFailed:  int(MetricDeliveryFailed),
			Superseded:      int(MetricChallengeSuperseded),
			DeliveryLatency: int(MetricDeliveryLatency),
		},
		Events: internalflows.IssueEvents{
			Issued:         auditEventChallengeIssued,
			RateLimited:    auditEventIssueRateLimited,
			DeliveryFailed: auditEventDeliveryFailed,
			Superseded:     auditEventChallengeSuperseded,
		},
		Errors: internalflows.IssueErrors{
			EngineNotReady:    ErrEngineNotReady,
			InvalidInput:      ErrInvalidInput,
			PurposeDisabled:   ErrPurposeDisabled,
			ChannelNotAllowed: ErrChannelNotAllowed,
			SubjectNotFound:   ErrSubjectNotFound,
			DeliveryFailed:    ErrDeliveryFailed,
			StaleState:        ErrStaleState,
			Unavailable:       ErrUnavailable,
		},
	}

	if e.resolver != nil {
		deps.ResolveSubject = func(ctx context.Context, purpose uint8, ownerRef string) (internalflows.IssueSubject, error) {
			subject, err := e.resolver.ResolveSubject(ctx, purposeFromCode(purpose), ownerRef)
			if err != nil {
				return internalflows.IssueSubject{}, err
			}
			if subject.Ref == "" {
				return internalflows.IssueSubject{}, ErrSubjectNotFound
			}
			return internalflows.IssueSubject{Ref: subject.Ref, Destination: subject.Destination}, nil
		}
		deps.IsSubjectNotFound = func(err error) bool {
			return errors.Is(err, ErrSubjectNotFound)
		}
	}

	return deps
}

func (e *Engine) flowPolicy(code uint8) (internalflows.IssuePolicy, bool) {
	purpose := purposeFromCode(code)
	if purpose == "" {
		return internalflows.IssuePolicy{}, false
	}
	p, ok := e.config.Purposes[purpose]
	if !ok {
		return internalflows.IssuePolicy{}, false
	}

	channels := make([]uint8, 0, len(p.Channels))
	for _, ch := range p.Channels {
		channels = append(channels, ch.code())
	}
	return internalflows.IssuePolicy{
		Enabled:         p.Enabled,
		Channels:        channels,
		CodeTTL:         p.CodeTTL,
		LinkTTL:         p.LinkTTL,
		Cooldown:        p.Cooldown,
		MaxAttempts:     p.MaxAttempts,
		OTPDigits:       p.OTPDigits,
		EnumerationSafe: p.EnumerationSafe,
	}, true
}

func (e *Engine) generateSecret(channel uint8, digits int) (string, error) {
	if channel == internalflows.ChannelLink {
		secret, err := internal.NewLinkSecret()
		if err != nil {
			return "", err
		}
		return secret.String(), nil
	}

	if code, ok := devbypass.FixedOTP(e.config.Dev.FixedOTP, digits, e.sandbox); ok {
		return code, nil
	}
	return internal.NewOTP(digits)
}

func (e *Engine) hashSecret(challengeID, secret string) [32]byte {
	return internal.HashSecret(e.config.Secret.Pepper, challengeID, secret)
}

func (e *Engine) rollbackChallenge(ctx context.Context, tenantID string, record *stores.ChallengeRecord) error {
	err := e.challenges.Rollback(ctx, tenantID, record)
	if err != nil {
		e.log().WithError(err).WithField("challenge_id", record.ID).Error("goVerify: rollback after failed delivery")
	}
	return err
}

// deliver turns a flow delivery into a gateway message. Link challenges carry
// "<id>.<secret>" as their secret so that the token alone identifies the
// challenge.
func (e *Engine) deliver(ctx context.Context, d internalflows.Delivery) error {
	msg := Message{
		ChallengeID: d.ChallengeID,
		Purpose:     purposeFromCode(d.Purpose),
		Channel:     channelFromCode(d.Channel),
		Destination: d.Destination,
		Secret:      d.Secret,
		ExpiresAt:   d.ExpiresAt,
	}

	if d.Channel == internalflows.ChannelLink {
		msg.Secret = internal.EncodeLinkToken(d.ChallengeID, d.Secret)
		if policy, ok := e.config.Purposes[msg.Purpose]; ok && policy.LinkBaseURL != "" {
			msg.Link = linkURL(policy.LinkBaseURL, msg.Secret)
		}
	}

	return e.gateway.Deliver(ctx, msg)
}

func linkURL(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return base + sep + "token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
