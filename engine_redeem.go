package goVerify

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goVerify/internal"
	internalflows "github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/stores"
)

// Redeem consumes the action token and then runs mutate for the token's
// subject. Among concurrent calls with the same token exactly one reaches
// mutate. The token is spent even when mutate fails; that failure is
// returned wrapped with [ErrActionFailed].
//
// A token minted for another purpose yields [ErrPurposeMismatch] and is left
// untouched.
func (e *Engine) Redeem(ctx context.Context, actionTokenID string, purpose Purpose, mutate MutationFunc) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if !purpose.Valid() {
		return ErrInvalidInput
	}

	var m internalflows.Mutation
	if mutate != nil {
		m = internalflows.Mutation(mutate)
	}
	return internalflows.RunRedeem(ctx, actionTokenID, purpose.code(), m, e.redeemFlowDeps())
}

func (e *Engine) redeemFlowDeps() internalflows.RedeemDeps {
	return internalflows.RedeemDeps{
		TenantIDFromContext: tenantIDFromContext,
		ClientIPFromContext: clientIPFromContext,
		ValidTokenID:        internal.ValidActionTokenID,
		HashTokenID:         internal.HashActionTokenID,
		CheckLimiter:        e.redeemLimiter.Check,
		IsLimited: func(err error) bool {
			return errors.Is(err, limiters.ErrRedeemRateLimited)
		},
		RateLimited: func(retryAfter time.Duration) error {
			return &RateLimitError{RetryAfter: retryAfter}
		},
		Get:     e.tokens.Get,
		Consume: e.tokens.Consume,
		IsNotFound: func(err error) bool {
			return errors.Is(err, stores.ErrTokenNotFound)
		},
		IsStale: func(err error) bool {
			return errors.Is(err, stores.ErrTokenStale)
		},
		MapStoreError: mapStoreError,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.RedeemMetrics{
			Redeemed:        int(MetricRedeemSuccess),
			Expired:         int(MetricRedeemExpired),
			Replay:          int(MetricRedeemReplay),
			PurposeMismatch: int(MetricRedeemPurposeMismatch),
			ActionFailed:    int(MetricRedeemActionFailed),
			RateLimited:     int(MetricRedeemRateLimited),
		},
		Events: internalflows.RedeemEvents{
			Redeemed:        auditEventActionTokenRedeemed,
			RedeemFailed:    auditEventRedeemFailed,
			PurposeMismatch: auditEventRedeemPurposeMismatch,
			Replay:          auditEventRedeemReplay,
			RateLimited:     auditEventRedeemRateLimited,
		},
		Errors: internalflows.RedeemErrors{
			EngineNotReady:  ErrEngineNotReady,
			InvalidInput:    ErrInvalidInput,
			NotFound:        ErrNotFound,
			TokenExpired:    ErrTokenExpired,
			AlreadyConsumed: ErrAlreadyConsumed,
			PurposeMismatch: ErrPurposeMismatch,
			ActionFailed:    ErrActionFailed,
			Unavailable:     ErrUnavailable,
		},
	}
}
