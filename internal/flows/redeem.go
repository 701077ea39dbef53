package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goVerify/internal/stores"
)

type RedeemMetrics struct {
	Redeemed        int
	Expired         int
	Replay          int
	PurposeMismatch int
	ActionFailed    int
	RateLimited     int
}

type RedeemEvents struct {
	Redeemed        string
	RedeemFailed    string
	PurposeMismatch string
	Replay          string
	RateLimited     string
}

type RedeemErrors struct {
	EngineNotReady  error
	InvalidInput    error
	NotFound        error
	TokenExpired    error
	AlreadyConsumed error
	PurposeMismatch error
	ActionFailed    error
	Unavailable     error
}

// Mutation is the protected state change a token unlocks. It receives the
// subject the token was minted for.
type Mutation func(ctx context.Context, subjectRef string) error

type RedeemDeps struct {
	TenantIDFromContext func(context.Context) string
	ClientIPFromContext func(context.Context) string

	ValidTokenID func(string) bool
	HashTokenID  func(string) [32]byte

	CheckLimiter func(ctx context.Context, tenantID, ip string) (time.Duration, error)
	IsLimited    func(error) bool
	RateLimited  func(retryAfter time.Duration) error

	Get     func(ctx context.Context, tenantID string, tokenHash [32]byte) (*stores.ActionTokenRecord, error)
	Consume func(ctx context.Context, tenantID string, tokenHash [32]byte) (*stores.ActionTokenRecord, error)

	IsNotFound    func(error) bool
	IsStale       func(error) bool
	MapStoreError func(error) error

	MetricInc func(int)
	EmitAudit EmitAuditFunc

	Metrics RedeemMetrics
	Events  RedeemEvents
	Errors  RedeemErrors
}

// RunRedeem consumes an ISSUED token of the expected purpose and then runs
// the mutation. The token is consumed before the mutation and is never
// restored, even when the mutation fails.
func RunRedeem(ctx context.Context, tokenID string, purpose uint8, mutate Mutation, deps RedeemDeps) error {
	normalizeRedeemDeps(&deps)

	if deps.Get == nil || deps.Consume == nil || deps.HashTokenID == nil {
		return deps.Errors.EngineNotReady
	}
	if mutate == nil || purpose == 0 {
		return deps.Errors.InvalidInput
	}
	if !deps.ValidTokenID(tokenID) {
		return deps.Errors.NotFound
	}

	tenantID := deps.TenantIDFromContext(ctx)
	if deps.CheckLimiter != nil {
		retryAfter, err := deps.CheckLimiter(ctx, tenantID, deps.ClientIPFromContext(ctx))
		if err != nil {
			if deps.IsLimited(err) {
				deps.MetricInc(deps.Metrics.RateLimited)
				limited := deps.RateLimited(retryAfter)
				deps.EmitAudit(ctx, deps.Events.RateLimited, false, AuditFields{Purpose: purpose}, limited, nil)
				return limited
			}
			return deps.MapStoreError(err)
		}
	}

	hash := deps.HashTokenID(tokenID)
	record, err := deps.Get(ctx, tenantID, hash)
	if err != nil {
		if deps.IsNotFound(err) {
			return deps.Errors.NotFound
		}
		return deps.MapStoreError(err)
	}

	fields := AuditFields{
		ChallengeID: record.SourceChallengeID,
		SubjectRef:  record.SubjectRef,
		Purpose:     record.Purpose,
	}

	if err := tokenStatusError(ctx, record, fields, deps); err != nil {
		return err
	}

	if record.Purpose != purpose {
		deps.MetricInc(deps.Metrics.PurposeMismatch)
		deps.EmitAudit(ctx, deps.Events.PurposeMismatch, false, fields, deps.Errors.PurposeMismatch, nil)
		return deps.Errors.PurposeMismatch
	}

	consumed, err := deps.Consume(ctx, tenantID, hash)
	if err != nil {
		if deps.IsStale(err) {
			if consumed != nil {
				if statusErr := tokenStatusError(ctx, consumed, fields, deps); statusErr != nil {
					return statusErr
				}
			}
			return deps.Errors.AlreadyConsumed
		}
		if deps.IsNotFound(err) {
			return deps.Errors.NotFound
		}
		return deps.MapStoreError(err)
	}

	if err := mutate(ctx, consumed.SubjectRef); err != nil {
		deps.MetricInc(deps.Metrics.ActionFailed)
		deps.EmitAudit(ctx, deps.Events.RedeemFailed, false, fields, deps.Errors.ActionFailed, nil)
		return errors.Join(deps.Errors.ActionFailed, err)
	}

	deps.MetricInc(deps.Metrics.Redeemed)
	deps.EmitAudit(ctx, deps.Events.Redeemed, true, fields, nil, nil)
	return nil
}

func tokenStatusError(ctx context.Context, record *stores.ActionTokenRecord, fields AuditFields, deps RedeemDeps) error {
	switch record.Status {
	case stores.TokenIssued:
		return nil
	case stores.TokenExpired:
		deps.MetricInc(deps.Metrics.Expired)
		deps.EmitAudit(ctx, deps.Events.RedeemFailed, false, fields, deps.Errors.TokenExpired, nil)
		return deps.Errors.TokenExpired
	default:
		deps.MetricInc(deps.Metrics.Replay)
		deps.EmitAudit(ctx, deps.Events.Replay, false, fields, deps.Errors.AlreadyConsumed, nil)
		return deps.Errors.AlreadyConsumed
	}
}

func normalizeRedeemDeps(deps *RedeemDeps) {
	if deps.TenantIDFromContext == nil {
		deps.TenantIDFromContext = func(context.Context) string { return "" }
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.ValidTokenID == nil {
		deps.ValidTokenID = func(id string) bool { return id != "" }
	}
	if deps.IsLimited == nil {
		deps.IsLimited = func(error) bool { return false }
	}
	if deps.RateLimited == nil {
		deps.RateLimited = func(time.Duration) error { return deps.Errors.Unavailable }
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
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
