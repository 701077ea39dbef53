package flows

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal/stores"
)

type VerifyOutcome struct {
	ChallengeID   string
	ActionTokenID string
	Purpose       uint8
	SubjectRef    string
	ExpiresAt     time.Time
}

type VerifyMetrics struct {
	Success          int
	InvalidCode      int
	AttemptsExceeded int
	Expired          int
	Replay           int
	RateLimited      int
	StaleRetry       int
	TokenIssued      int
}

type VerifyEvents struct {
	Verified         string
	VerifyFailed     string
	AttemptsExceeded string
	Expired          string
	Replay           string
	RateLimited      string
	TokenIssued      string
}

type VerifyErrors struct {
	EngineNotReady   error
	InvalidInput     error
	NotFound         error
	Expired          error
	AlreadyFinalized error
	StaleState       error
	Unavailable      error
}

type VerifyDeps struct {
	TokenTTL time.Duration

	TenantIDFromContext func(context.Context) string
	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	ValidChallengeID func(string) bool
	CheckLimiter     func(ctx context.Context, tenantID, challengeID, ip string) (time.Duration, error)
	IsLimited        func(error) bool

	Get                  func(ctx context.Context, tenantID, challengeID string) (*stores.ChallengeRecord, error)
	MarkExpired          func(ctx context.Context, tenantID, challengeID string) error
	CompareAndTransition func(ctx context.Context, tenantID, challengeID string, expected stores.ChallengeStatus, mutate stores.ChallengeMutation) (*stores.ChallengeRecord, error)

	HashSecret func(challengeID, secret string) [32]byte

	NewActionTokenID func() (string, error)
	HashTokenID      func(string) [32]byte
	CreateToken      func(ctx context.Context, tenantID string, tokenHash [32]byte, record *stores.ActionTokenRecord) error

	IsNotFound    func(error) bool
	IsStale       func(error) bool
	MapStoreError func(error) error
	MaskOwner     func(channel uint8, ownerRef string) string
	InvalidCode   func(attemptsRemaining int) error
	RateLimited   func(retryAfter time.Duration, challengeID string) error

	MetricInc func(int)
	EmitAudit EmitAuditFunc

	Metrics VerifyMetrics
	Events  VerifyEvents
	Errors  VerifyErrors
}

// RunVerify checks a submitted secret against a PENDING challenge. A match
// consumes the challenge and mints exactly one action token; a mismatch
// spends one attempt. Status races surface as a stale state, which is
// retried once before being returned.
func RunVerify(ctx context.Context, challengeID, submitted string, deps VerifyDeps) (*VerifyOutcome, error) {
	normalizeVerifyDeps(&deps)

	if deps.Get == nil || deps.CompareAndTransition == nil || deps.HashSecret == nil ||
		deps.NewActionTokenID == nil || deps.HashTokenID == nil || deps.CreateToken == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if submitted == "" || len(submitted) > 256 {
		return nil, deps.Errors.InvalidInput
	}
	if !deps.ValidChallengeID(challengeID) {
		return nil, deps.Errors.NotFound
	}

	tenantID := deps.TenantIDFromContext(ctx)
	if deps.CheckLimiter != nil {
		retryAfter, err := deps.CheckLimiter(ctx, tenantID, challengeID, deps.ClientIPFromContext(ctx))
		if err != nil {
			if deps.IsLimited(err) {
				deps.MetricInc(deps.Metrics.RateLimited)
				limited := deps.RateLimited(retryAfter, challengeID)
				deps.EmitAudit(ctx, deps.Events.RateLimited, false, AuditFields{ChallengeID: challengeID}, limited, nil)
				return nil, limited
			}
			return nil, deps.MapStoreError(err)
		}
	}

	const maxAttempts = 2
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			deps.MetricInc(deps.Metrics.StaleRetry)
		}

		outcome, err := verifyOnce(ctx, tenantID, challengeID, submitted, deps)
		if err != nil && deps.IsStale(err) {
			continue
		}
		return outcome, err
	}

	return nil, deps.Errors.StaleState
}

func verifyOnce(ctx context.Context, tenantID, challengeID, submitted string, deps VerifyDeps) (*VerifyOutcome, error) {
	record, err := deps.Get(ctx, tenantID, challengeID)
	if err != nil {
		if deps.IsNotFound(err) {
			return nil, deps.Errors.NotFound
		}
		return nil, deps.MapStoreError(err)
	}

	fields := AuditFields{
		ChallengeID: record.ID,
		OwnerRef:    deps.MaskOwner(record.Channel, record.OwnerRef),
		SubjectRef:  record.SubjectRef,
		Purpose:     record.Purpose,
		Channel:     record.Channel,
	}

	switch record.Status {
	case stores.ChallengePending:
	case stores.ChallengeExpired:
		if deps.MarkExpired != nil {
			if err := deps.MarkExpired(ctx, tenantID, challengeID); err != nil && !deps.IsStale(err) {
				return nil, deps.MapStoreError(err)
			}
		}
		deps.MetricInc(deps.Metrics.Expired)
		deps.EmitAudit(ctx, deps.Events.Expired, false, fields, deps.Errors.Expired, nil)
		return nil, deps.Errors.Expired
	default:
		deps.MetricInc(deps.Metrics.Replay)
		deps.EmitAudit(ctx, deps.Events.Replay, false, fields, deps.Errors.AlreadyFinalized, func() map[string]string {
			return map[string]string{"status": record.Status.String()}
		})
		return nil, deps.Errors.AlreadyFinalized
	}

	provided := deps.HashSecret(record.ID, submitted)
	matched := subtle.ConstantTimeCompare(record.SecretHash[:], provided[:]) == 1
	// Shadow challenges have no subject and can never be answered.
	if record.SubjectRef == "" {
		matched = false
	}

	if !matched {
		return nil, recordMismatch(ctx, tenantID, record, fields, deps)
	}

	now := deps.Now()
	consumed, err := deps.CompareAndTransition(ctx, tenantID, record.ID, stores.ChallengePending, func(r *stores.ChallengeRecord) error {
		r.Status = stores.ChallengeConsumed
		r.VerifiedAt = now
		return nil
	})
	if err != nil {
		if deps.IsStale(err) {
			return nil, err
		}
		if deps.IsNotFound(err) {
			return nil, deps.Errors.NotFound
		}
		return nil, deps.MapStoreError(err)
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Verified, true, fields, nil, nil)

	tokenID, err := deps.NewActionTokenID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}
	token := &stores.ActionTokenRecord{
		SourceChallengeID: consumed.ID,
		SubjectRef:        consumed.SubjectRef,
		Purpose:           consumed.Purpose,
		Status:            stores.TokenIssued,
		CreatedAt:         now,
		ExpiresAt:         now.Add(deps.TokenTTL),
	}
	if err := deps.CreateToken(ctx, tenantID, deps.HashTokenID(tokenID), token); err != nil {
		mapped := deps.MapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.TokenIssued, false, fields, mapped, nil)
		return nil, mapped
	}

	deps.MetricInc(deps.Metrics.TokenIssued)
	deps.EmitAudit(ctx, deps.Events.TokenIssued, true, fields, nil, nil)

	return &VerifyOutcome{
		ChallengeID:   consumed.ID,
		ActionTokenID: tokenID,
		Purpose:       consumed.Purpose,
		SubjectRef:    consumed.SubjectRef,
		ExpiresAt:     token.ExpiresAt,
	}, nil
}

func recordMismatch(
	ctx context.Context,
	tenantID string,
	record *stores.ChallengeRecord,
	fields AuditFields,
	deps VerifyDeps,
) error {
	updated, err := deps.CompareAndTransition(ctx, tenantID, record.ID, stores.ChallengePending, func(r *stores.ChallengeRecord) error {
		r.Attempts++
		if r.Attempts >= r.MaxAttempts {
			r.Status = stores.ChallengeFailed
		}
		return nil
	})
	if err != nil {
		if deps.IsStale(err) {
			return err
		}
		if deps.IsNotFound(err) {
			return deps.Errors.NotFound
		}
		return deps.MapStoreError(err)
	}

	remaining := int(updated.MaxAttempts) - int(updated.Attempts)
	if remaining < 0 {
		remaining = 0
	}
	invalid := deps.InvalidCode(remaining)

	deps.MetricInc(deps.Metrics.InvalidCode)
	deps.EmitAudit(ctx, deps.Events.VerifyFailed, false, fields, invalid, func() map[string]string {
		return map[string]string{"attempts_remaining": fmt.Sprint(remaining)}
	})
	if updated.Status == stores.ChallengeFailed {
		deps.MetricInc(deps.Metrics.AttemptsExceeded)
		deps.EmitAudit(ctx, deps.Events.AttemptsExceeded, false, fields, invalid, nil)
	}
	return invalid
}

func normalizeVerifyDeps(deps *VerifyDeps) {
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = 10 * time.Minute
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TenantIDFromContext == nil {
		deps.TenantIDFromContext = func(context.Context) string { return "" }
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.ValidChallengeID == nil {
		deps.ValidChallengeID = func(id string) bool { return id != "" }
	}
	if deps.IsLimited == nil {
		deps.IsLimited = func(error) bool { return false }
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.IsStale == nil {
		deps.IsStale = func(error) bool { return false }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(error) error { return deps.Errors.Unavailable }
	}
	if deps.MaskOwner == nil {
		deps.MaskOwner = func(uint8, string) string { return "***" }
	}
	if deps.InvalidCode == nil {
		deps.InvalidCode = func(int) error { return deps.Errors.InvalidInput }
	}
	if deps.RateLimited == nil {
		deps.RateLimited = func(time.Duration, string) error { return deps.Errors.Unavailable }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
