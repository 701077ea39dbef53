package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal/rate"
)

var (
	ErrVerifyRateLimited      = errors.New("verify rate limited")
	ErrVerifyRedisUnavailable = errors.New("verify redis unavailable")
)

type VerifyConfig struct {
	PerChallenge rate.Window
	PerIP        rate.Window
}

type VerifyLimiter struct {
	limiter *rate.Limiter
	config  VerifyConfig
}

func NewVerifyLimiter(limiter *rate.Limiter, cfg VerifyConfig) *VerifyLimiter {
	return &VerifyLimiter{
		limiter: limiter,
		config:  cfg,
	}
}

func (l *VerifyLimiter) Check(ctx context.Context, tenantID, challengeID, ip string) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}

	retryAfter, err := l.limiter.Hit(ctx, verifyChallengeKey(tenantID, challengeID), l.config.PerChallenge)
	if err != nil {
		return retryAfter, mapVerifyError(err)
	}
	if ip != "" {
		retryAfter, err = l.limiter.Hit(ctx, verifyIPKey(tenantID, ip), l.config.PerIP)
		if err != nil {
			return retryAfter, mapVerifyError(err)
		}
	}
	return 0, nil
}

func mapVerifyError(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrVerifyRateLimited
	}
	return fmt.Errorf("%w: %v", ErrVerifyRedisUnavailable, err)
}
