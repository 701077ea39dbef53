package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal/stores"
)

// IssuePolicy is the per-purpose issuance policy.
type IssuePolicy struct {
	Enabled         bool
	Channels        []uint8
	CodeTTL         time.Duration
	LinkTTL         time.Duration
	Cooldown        time.Duration
	MaxAttempts     int
	OTPDigits       int
	EnumerationSafe bool
}

func (p IssuePolicy) allows(channel uint8) bool {
	for _, c := range p.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

func (p IssuePolicy) ttl(channel uint8) time.Duration {
	if channel == ChannelLink {
		return p.LinkTTL
	}
	return p.CodeTTL
}

// IssueRequest is one issuance or resend. Channel zero selects the first
// allowed channel the owner reference normalizes under; for a resend it
// prefers the channel of the latest challenge.
type IssueRequest struct {
	OwnerRef string
	Purpose  uint8
	Channel  uint8
	Resend   bool
}

type IssueSubject struct {
	Ref         string
	Destination string
}

// Delivery carries the plaintext secret to the gateway. It is the only value
// that ever holds the secret after generation.
type Delivery struct {
	ChallengeID string
	Purpose     uint8
	Channel     uint8
	OwnerRef    string
	Destination string
	Secret      string
	ExpiresAt   time.Time
}

type IssueOutcome struct {
	ChallengeID    string
	OwnerRef       string
	MaskedOwnerRef string
	Channel        uint8
	Cooldown       time.Duration
	ExpiresAt      time.Time
}

type IssueMetrics struct {
	Issued          int
	Resent          int
	RateLimited     int
	DeliveryFailed  int
	Superseded      int
	DeliveryLatency int
}

type IssueEvents struct {
	Issued         string
	RateLimited    string
	DeliveryFailed string
	Superseded     string
}

type IssueErrors struct {
	EngineNotReady    error
	InvalidInput      error
	PurposeDisabled   error
	ChannelNotAllowed error
	SubjectNotFound   error
	DeliveryFailed    error
	StaleState        error
	Unavailable       error
}

type IssueDeps struct {
	Policy func(purpose uint8) (IssuePolicy, bool)

	TenantIDFromContext func(context.Context) string
	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	NormalizeOwner func(channel uint8, ownerRef string) (string, error)
	MaskOwner      func(channel uint8, ownerRef string) string

	CheckLimiter func(ctx context.Context, tenantID string, purpose uint8, ownerRef, ip string) (time.Duration, error)
	IsLimited    func(error) bool

	ResolveSubject    func(ctx context.Context, purpose uint8, ownerRef string) (IssueSubject, error)
	IsSubjectNotFound func(error) bool

	NewChallengeID func() string
	GenerateSecret func(channel uint8, digits int) (string, error)
	HashSecret     func(challengeID, secret string) [32]byte

	Latest    func(ctx context.Context, tenantID, ownerRef string, purpose uint8) (*stores.ChallengeRecord, error)
	Supersede func(ctx context.Context, tenantID, challengeID string) error
	Put       func(ctx context.Context, tenantID string, record *stores.ChallengeRecord) error
	Rollback  func(ctx context.Context, tenantID string, record *stores.ChallengeRecord) error

	Deliver func(ctx context.Context, delivery Delivery) error

	IsNotFound    func(error) bool
	IsConflict    func(error) bool
	IsStale       func(error) bool
	MapStoreError func(error) error
	RateLimited   func(retryAfter time.Duration, challengeID, maskedOwnerRef string) error

	MetricInc func(int)
	Observe   func(int, time.Duration)
	EmitAudit EmitAuditFunc

	Metrics IssueMetrics
	Events  IssueEvents
	Errors  IssueErrors
}

// RunIssue creates a challenge for (owner, purpose), superseding any prior
// PENDING one, and delivers its secret. Delivery is synchronous: on failure
// the challenge is rolled back and no cooldown is left behind.
func RunIssue(ctx context.Context, req IssueRequest, deps IssueDeps) (*IssueOutcome, error) {
	normalizeIssueDeps(&deps)

	if deps.Policy == nil || deps.NormalizeOwner == nil || deps.NewChallengeID == nil ||
		deps.GenerateSecret == nil || deps.HashSecret == nil || deps.Latest == nil ||
		deps.Put == nil || deps.Deliver == nil {
		return nil, deps.Errors.EngineNotReady
	}

	policy, ok := deps.Policy(req.Purpose)
	if !ok {
		return nil, deps.Errors.InvalidInput
	}
	if !policy.Enabled {
		return nil, deps.Errors.PurposeDisabled
	}

	tenantID := deps.TenantIDFromContext(ctx)
	ip := deps.ClientIPFromContext(ctx)

	channel, ownerRef, latest, err := resolveIssueTarget(ctx, tenantID, req, policy, deps)
	if err != nil {
		return nil, err
	}
	masked := deps.MaskOwner(channel, ownerRef)
	fields := AuditFields{OwnerRef: masked, Purpose: req.Purpose, Channel: channel}

	now := deps.Now()
	if latest != nil && now.Before(latest.NextResendAt) {
		return nil, issueRateLimited(ctx, deps, fields, latest.NextResendAt.Sub(now), activeID(latest), "cooldown")
	}

	if deps.CheckLimiter != nil {
		retryAfter, err := deps.CheckLimiter(ctx, tenantID, req.Purpose, ownerRef, ip)
		if err != nil {
			if deps.IsLimited(err) {
				return nil, issueRateLimited(ctx, deps, fields, retryAfter, "", "throttle")
			}
			return nil, deps.MapStoreError(err)
		}
	}

	subject := IssueSubject{Ref: ownerRef, Destination: ownerRef}
	shadow := false
	if deps.ResolveSubject != nil {
		subject, err = deps.ResolveSubject(ctx, req.Purpose, ownerRef)
		if err != nil {
			if isContextErr(err) {
				return nil, err
			}
			if !deps.IsSubjectNotFound(err) {
				return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
			}
			if !policy.EnumerationSafe {
				deps.EmitAudit(ctx, deps.Events.Issued, false, fields, deps.Errors.SubjectNotFound, nil)
				return nil, deps.Errors.SubjectNotFound
			}
			// Unknown owners get a challenge nobody can answer so that the
			// response and the cooldown look the same as for a real one.
			shadow = true
			subject = IssueSubject{}
		}
	}
	if subject.Destination == "" && !shadow {
		subject.Destination = ownerRef
	}

	if latest != nil && latest.Status == stores.ChallengePending {
		if err := supersede(ctx, tenantID, latest, fields, deps); err != nil {
			return nil, err
		}
	}

	challengeID := deps.NewChallengeID()
	secret, err := deps.GenerateSecret(channel, policy.OTPDigits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}

	record := &stores.ChallengeRecord{
		ID:           challengeID,
		OwnerRef:     ownerRef,
		SubjectRef:   subject.Ref,
		Purpose:      req.Purpose,
		Channel:      channel,
		Status:       stores.ChallengePending,
		SecretHash:   deps.HashSecret(challengeID, secret),
		CreatedAt:    now,
		ExpiresAt:    now.Add(policy.ttl(channel)),
		NextResendAt: now.Add(policy.Cooldown),
		MaxAttempts:  uint16(policy.MaxAttempts),
	}
	if req.Resend && latest != nil {
		record.ResendCount = latest.ResendCount + 1
	}
	fields.ChallengeID = challengeID
	fields.SubjectRef = subject.Ref

	if err := deps.Put(ctx, tenantID, record); err != nil {
		if deps.IsConflict(err) {
			return nil, concurrentIssue(ctx, tenantID, ownerRef, fields, deps)
		}
		mapped := deps.MapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.Issued, false, fields, mapped, nil)
		return nil, mapped
	}

	if !shadow {
		start := time.Now()
		err := deps.Deliver(ctx, Delivery{
			ChallengeID: challengeID,
			Purpose:     req.Purpose,
			Channel:     channel,
			OwnerRef:    ownerRef,
			Destination: subject.Destination,
			Secret:      secret,
			ExpiresAt:   record.ExpiresAt,
		})
		deps.Observe(deps.Metrics.DeliveryLatency, time.Since(start))
		if err != nil {
			if deps.Rollback != nil {
				// Rollback failures are reported by the engine; the caller
				// still needs to see the delivery failure.
				_ = deps.Rollback(context.WithoutCancel(ctx), tenantID, record)
			}
			deps.MetricInc(deps.Metrics.DeliveryFailed)
			deps.EmitAudit(ctx, deps.Events.DeliveryFailed, false, fields, deps.Errors.DeliveryFailed, nil)
			return nil, fmt.Errorf("%w: %v", deps.Errors.DeliveryFailed, err)
		}
	}

	if req.Resend {
		deps.MetricInc(deps.Metrics.Resent)
	}
	deps.MetricInc(deps.Metrics.Issued)
	deps.EmitAudit(ctx, deps.Events.Issued, true, fields, nil, func() map[string]string {
		meta := map[string]string{}
		if req.Resend {
			meta["resend"] = "true"
		}
		if shadow {
			meta["enumeration_safe"] = "true"
		}
		return meta
	})

	return &IssueOutcome{
		ChallengeID:    challengeID,
		OwnerRef:       ownerRef,
		MaskedOwnerRef: masked,
		Channel:        channel,
		Cooldown:       policy.Cooldown,
		ExpiresAt:      record.ExpiresAt,
	}, nil
}

// resolveIssueTarget picks the channel, normalizes the owner for it and loads
// the latest challenge for the pair.
func resolveIssueTarget(
	ctx context.Context,
	tenantID string,
	req IssueRequest,
	policy IssuePolicy,
	deps IssueDeps,
) (uint8, string, *stores.ChallengeRecord, error) {
	if req.Channel != 0 {
		if !policy.allows(req.Channel) {
			return 0, "", nil, deps.Errors.ChannelNotAllowed
		}
		ownerRef, err := deps.NormalizeOwner(req.Channel, req.OwnerRef)
		if err != nil {
			return 0, "", nil, errors.Join(deps.Errors.InvalidInput, err)
		}
		latest, err := loadLatest(ctx, tenantID, ownerRef, req.Purpose, deps)
		return req.Channel, ownerRef, latest, err
	}

	var (
		firstChannel uint8
		firstOwner   string
		lastErr      error
	)
	for _, channel := range policy.Channels {
		ownerRef, err := deps.NormalizeOwner(channel, req.OwnerRef)
		if err != nil {
			lastErr = err
			continue
		}
		if firstChannel == 0 {
			firstChannel, firstOwner = channel, ownerRef
		}
		if !req.Resend {
			break
		}
		latest, err := loadLatest(ctx, tenantID, ownerRef, req.Purpose, deps)
		if err != nil {
			return 0, "", nil, err
		}
		if latest != nil {
			return latest.Channel, ownerRef, latest, nil
		}
	}
	if firstChannel == 0 {
		if lastErr == nil {
			lastErr = errors.New("no channel configured")
		}
		return 0, "", nil, errors.Join(deps.Errors.InvalidInput, lastErr)
	}

	latest, err := loadLatest(ctx, tenantID, firstOwner, req.Purpose, deps)
	return firstChannel, firstOwner, latest, err
}

func loadLatest(ctx context.Context, tenantID, ownerRef string, purpose uint8, deps IssueDeps) (*stores.ChallengeRecord, error) {
	latest, err := deps.Latest(ctx, tenantID, ownerRef, purpose)
	if err != nil {
		if deps.IsNotFound(err) {
			return nil, nil
		}
		return nil, deps.MapStoreError(err)
	}
	return latest, nil
}

func supersede(ctx context.Context, tenantID string, latest *stores.ChallengeRecord, fields AuditFields, deps IssueDeps) error {
	if deps.Supersede == nil {
		return nil
	}
	if err := deps.Supersede(ctx, tenantID, latest.ID); err != nil {
		// Someone else finalized it first; nothing left to supersede.
		if deps.IsStale(err) || deps.IsNotFound(err) {
			return nil
		}
		return deps.MapStoreError(err)
	}

	deps.MetricInc(deps.Metrics.Superseded)
	prev := fields
	prev.ChallengeID = latest.ID
	deps.EmitAudit(ctx, deps.Events.Superseded, true, prev, nil, nil)
	return nil
}

// concurrentIssue handles a Put that lost the race against a parallel
// issuance for the same pair.
func concurrentIssue(ctx context.Context, tenantID, ownerRef string, fields AuditFields, deps IssueDeps) error {
	latest, err := loadLatest(ctx, tenantID, ownerRef, fields.Purpose, deps)
	if err != nil {
		return err
	}
	now := deps.Now()
	if latest != nil && now.Before(latest.NextResendAt) {
		fields.ChallengeID = ""
		return issueRateLimited(ctx, deps, fields, latest.NextResendAt.Sub(now), activeID(latest), "concurrent")
	}
	return deps.Errors.StaleState
}

func issueRateLimited(
	ctx context.Context,
	deps IssueDeps,
	fields AuditFields,
	retryAfter time.Duration,
	challengeID string,
	scope string,
) error {
	deps.MetricInc(deps.Metrics.RateLimited)
	err := deps.RateLimited(retryAfter, challengeID, fields.OwnerRef)
	fields.ChallengeID = challengeID
	deps.EmitAudit(ctx, deps.Events.RateLimited, false, fields, err, func() map[string]string {
		return map[string]string{
			"scope":               scope,
			"retry_after_seconds": fmt.Sprint(secondsCeil(retryAfter)),
		}
	})
	return err
}

func activeID(record *stores.ChallengeRecord) string {
	if record == nil || record.Status != stores.ChallengePending {
		return ""
	}
	return record.ID
}

func normalizeIssueDeps(deps *IssueDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TenantIDFromContext == nil {
		deps.TenantIDFromContext = func(context.Context) string { return "" }
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.MaskOwner == nil {
		deps.MaskOwner = func(uint8, string) string { return "***" }
	}
	if deps.IsLimited == nil {
		deps.IsLimited = func(error) bool { return false }
	}
	if deps.IsSubjectNotFound == nil {
		deps.IsSubjectNotFound = func(error) bool { return false }
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.IsConflict == nil {
		deps.IsConflict = func(error) bool { return false }
	}
	if deps.IsStale == nil {
		deps.IsStale = func(error) bool { return false }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(error) error { return deps.Errors.Unavailable }
	}
	if deps.RateLimited == nil {
		deps.RateLimited = func(time.Duration, string, string) error { return deps.Errors.Unavailable }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Observe == nil {
		deps.Observe = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
