package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal/rate"
)

var (
	ErrRedeemRateLimited      = errors.New("redeem rate limited")
	ErrRedeemRedisUnavailable = errors.New("redeem redis unavailable")
)

type RedeemConfig struct {
	PerIP rate.Window
}

// RedeemLimiter throttles token redemption per client IP. Token ids are
// unguessable, so this mainly dampens scanning.
type RedeemLimiter struct {
	limiter *rate.Limiter
	config  RedeemConfig
}

func NewRedeemLimiter(limiter *rate.Limiter, cfg RedeemConfig) *RedeemLimiter {
	return &RedeemLimiter{
		limiter: limiter,
		config:  cfg,
	}
}

func (l *RedeemLimiter) Check(ctx context.Context, tenantID, ip string) (time.Duration, error) {
	if l == nil || ip == "" {
		return 0, nil
	}

	retryAfter, err := l.limiter.Hit(ctx, redeemIPKey(tenantID, ip), l.config.PerIP)
	if err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return retryAfter, ErrRedeemRateLimited
		}
		return 0, fmt.Errorf("%w: %v", ErrRedeemRedisUnavailable, err)
	}
	return 0, nil
}
