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

// Verify checks submitted against the challenge. On a match the challenge is
// consumed and a single-use action token is returned. A mismatch spends one
// attempt and returns an [*InvalidCodeError]; the last attempt moves the
// challenge to FAILED.
func (e *Engine) Verify(ctx context.Context, challengeID, submitted string) (*VerifyResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	out, err := internalflows.RunVerify(ctx, challengeID, submitted, e.verifyFlowDeps())
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		ActionTokenID: out.ActionTokenID,
		Purpose:       purposeFromCode(out.Purpose),
		ExpiresAt:     out.ExpiresAt,
	}, nil
}

// VerifyLink verifies the "<challengeID>.<secret>" token carried by an email
// link.
func (e *Engine) VerifyLink(ctx context.Context, token string) (*VerifyResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	challengeID, secret, err := internal.DecodeLinkToken(token)
	if err != nil {
		return nil, ErrInvalidInput
	}
	return e.Verify(ctx, challengeID, secret)
}

func (e *Engine) verifyFlowDeps() internalflows.VerifyDeps {
	return internalflows.VerifyDeps{
		TokenTTL:            e.config.ActionToken.TTL,
		TenantIDFromContext: tenantIDFromContext,
		ClientIPFromContext: clientIPFromContext,
		Now:                 e.now,
		ValidChallengeID: func(id string) bool {
			parsed, err := internal.ParseChallengeID(id)
			return err == nil && parsed == id
		},
		CheckLimiter: e.verifyLimiter.Check,
		IsLimited: func(err error) bool {
			return errors.Is(err, limiters.ErrVerifyRateLimited)
		},
		Get:                  e.challenges.Get,
		MarkExpired:          e.challenges.MarkExpired,
		CompareAndTransition: e.challenges.CompareAndTransition,
		HashSecret:           e.hashSecret,
		NewActionTokenID:     internal.NewActionTokenID,
		HashTokenID:          internal.HashActionTokenID,
		CreateToken:          e.tokens.Create,
		IsNotFound: func(err error) bool {
			return errors.Is(err, stores.ErrChallengeNotFound)
		},
		IsStale: func(err error) bool {
			return errors.Is(err, stores.ErrChallengeStale)
		},
		MapStoreError: mapStoreError,
		MaskOwner:     maskOwner,
		InvalidCode: func(remaining int) error {
			return &InvalidCodeError{AttemptsRemaining: remaining}
		},
		RateLimited: func(retryAfter time.Duration, challengeID string) error {
			return &RateLimitError{RetryAfter: retryAfter, ChallengeID: challengeID}
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.VerifyMetrics{
			Success:          int(MetricVerifySuccess),
			InvalidCode:      int(MetricVerifyInvalidCode),
			AttemptsExceeded: int(MetricVerifyAttemptsExceeded),
			Expired:          int(MetricVerifyExpired),
			Replay:           int(MetricVerifyReplay),
			RateLimited:      int(MetricVerifyRateLimited),
			StaleRetry:       int(MetricVerifyStaleRetry),
			TokenIssued:      int(MetricActionTokenIssued),
		},
		Events: internalflows.VerifyEvents{
			Verified:         auditEventChallengeVerified,
			VerifyFailed:     auditEventVerifyFailed,
			AttemptsExceeded: auditEventAttemptsExceeded,
			Expired:          auditEventChallengeExpired,
			Replay:           auditEventChallengeReplay,
			RateLimited:      auditEventVerifyRateLimited,
			TokenIssued:      auditEventActionTokenIssued,
		},
		Errors: internalflows.VerifyErrors{
			EngineNotReady:   ErrEngineNotReady,
			InvalidInput:     ErrInvalidInput,
			NotFound:         ErrNotFound,
			Expired:          ErrExpired,
			AlreadyFinalized: ErrAlreadyFinalized,
			StaleState:       ErrStaleState,
			Unavailable:      ErrUnavailable,
		},
	}
}
