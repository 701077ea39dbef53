package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal/rate"
)

var (
	ErrIssueRateLimited      = errors.New("issue rate limited")
	ErrIssueRedisUnavailable = errors.New("issue redis unavailable")
)

type IssueConfig struct {
	PerOwner rate.Window
	PerIP    rate.Window
}

// IssueLimiter bounds how many challenges a single owner or client IP may
// request per window, independent of the per-purpose resend cooldown.
type IssueLimiter struct {
	limiter *rate.Limiter
	config  IssueConfig
}

func NewIssueLimiter(limiter *rate.Limiter, cfg IssueConfig) *IssueLimiter {
	return &IssueLimiter{
		limiter: limiter,
		config:  cfg,
	}
}

// Check counts one issuance. The returned duration is the retry-after hint
// when the error is ErrIssueRateLimited.
func (l *IssueLimiter) Check(ctx context.Context, tenantID string, purpose uint8, ownerRef, ip string) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}

	retryAfter, err := l.limiter.Hit(ctx, issueOwnerKey(tenantID, purpose, ownerRef), l.config.PerOwner)
	if err != nil {
		return retryAfter, mapIssueError(err)
	}
	if ip != "" {
		retryAfter, err = l.limiter.Hit(ctx, issueIPKey(tenantID, ip), l.config.PerIP)
		if err != nil {
			return retryAfter, mapIssueError(err)
		}
	}
	return 0, nil
}

func mapIssueError(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrIssueRateLimited
	}
	return fmt.Errorf("%w: %v", ErrIssueRedisUnavailable, err)
}
