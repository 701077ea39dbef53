package goVerify

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goVerify/internal"
	"github.com/MrEthical07/goVerify/internal/stores"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// InspectActionToken describes a token without consuming it. Callers use it
// to check that the token subject matches the signed-in account before
// calling [Engine.Redeem].
func (e *Engine) InspectActionToken(ctx context.Context, actionTokenID string) (*ActionTokenInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if !internal.ValidActionTokenID(actionTokenID) {
		return nil, ErrNotFound
	}

	record, err := e.tokens.Get(ctx, tenantIDFromContext(ctx), internal.HashActionTokenID(actionTokenID))
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return nil, ErrNotFound
		}
		return nil, mapStoreError(err)
	}

	return &ActionTokenInfo{
		SourceChallengeID: record.SourceChallengeID,
		Purpose:           purposeFromCode(record.Purpose),
		SubjectRef:        record.SubjectRef,
		Status:            TokenStatus(record.Status.String()),
		ExpiresAt:         record.ExpiresAt,
	}, nil
}

// InspectChallenge returns the public view of a challenge. The owner
// reference is masked and no secret material is exposed.
func (e *Engine) InspectChallenge(ctx context.Context, challengeID string) (*ChallengeInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if parsed, err := internal.ParseChallengeID(challengeID); err != nil || parsed != challengeID {
		return nil, ErrNotFound
	}

	record, err := e.challenges.Get(ctx, tenantIDFromContext(ctx), challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return nil, ErrNotFound
		}
		return nil, mapStoreError(err)
	}

	return toChallengeInfo(record), nil
}

func (e *Engine) Health(ctx context.Context) HealthStatus {
	if !e.ready() {
		return HealthStatus{}
	}

	latency, err := e.challenges.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
	}
}

func toChallengeInfo(record *stores.ChallengeRecord) *ChallengeInfo {
	return &ChallengeInfo{
		ID:                  record.ID,
		MaskedOwnerRef:      maskOwner(record.Channel, record.OwnerRef),
		Purpose:             purposeFromCode(record.Purpose),
		Channel:             channelFromCode(record.Channel),
		Status:              ChallengeStatus(record.Status.String()),
		CreatedAt:           record.CreatedAt,
		ExpiresAt:           record.ExpiresAt,
		NextResendAllowedAt: record.NextResendAt,
		AttemptCount:        int(record.Attempts),
		MaxAttempts:         int(record.MaxAttempts),
		ResendCount:         int(record.ResendCount),
	}
}
