package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goVerify/internal/rate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRate(t *testing.T) *rate.Limiter {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rate.New(client, "avr")
}

func TestIssueLimiterPerOwner(t *testing.T) {
	l := NewIssueLimiter(newTestRate(t), IssueConfig{
		PerOwner: rate.Window{Limit: 2, Period: time.Hour},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Check(ctx, "", 1, "+628111", ""); err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
	}
	retryAfter, err := l.Check(ctx, "", 1, "+628111", "")
	if !errors.Is(err, ErrIssueRateLimited) {
		t.Fatalf("expected ErrIssueRateLimited, got %v", err)
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry after, got %v", retryAfter)
	}

	if _, err := l.Check(ctx, "", 2, "+628111", ""); err != nil {
		t.Fatalf("different purpose should have its own budget: %v", err)
	}
	if _, err := l.Check(ctx, "", 1, "+628222", ""); err != nil {
		t.Fatalf("different owner should have its own budget: %v", err)
	}
}

func TestIssueLimiterPerIP(t *testing.T) {
	l := NewIssueLimiter(newTestRate(t), IssueConfig{
		PerIP: rate.Window{Limit: 1, Period: time.Hour},
	})
	ctx := context.Background()

	if _, err := l.Check(ctx, "", 1, "a", "10.0.0.1"); err != nil {
		t.Fatalf("first check failed: %v", err)
	}
	if _, err := l.Check(ctx, "", 1, "b", "10.0.0.1"); !errors.Is(err, ErrIssueRateLimited) {
		t.Fatalf("expected ip throttle, got %v", err)
	}
	if _, err := l.Check(ctx, "", 1, "c", ""); err != nil {
		t.Fatalf("empty ip must skip ip window: %v", err)
	}
}

func TestVerifyLimiterPerChallenge(t *testing.T) {
	l := NewVerifyLimiter(newTestRate(t), VerifyConfig{
		PerChallenge: rate.Window{Limit: 3, Period: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Check(ctx, "", "c-1", ""); err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
	}
	if _, err := l.Check(ctx, "", "c-1", ""); !errors.Is(err, ErrVerifyRateLimited) {
		t.Fatalf("expected ErrVerifyRateLimited, got %v", err)
	}
}

func TestRedeemLimiter(t *testing.T) {
	l := NewRedeemLimiter(newTestRate(t), RedeemConfig{
		PerIP: rate.Window{Limit: 1, Period: time.Minute},
	})
	ctx := context.Background()

	if _, err := l.Check(ctx, "", "10.0.0.2"); err != nil {
		t.Fatalf("first check failed: %v", err)
	}
	if _, err := l.Check(ctx, "", "10.0.0.2"); !errors.Is(err, ErrRedeemRateLimited) {
		t.Fatalf("expected ErrRedeemRateLimited, got %v", err)
	}
}

func TestNilLimitersAreNoOps(t *testing.T) {
	ctx := context.Background()
	var il *IssueLimiter
	var vl *VerifyLimiter
	var rl *RedeemLimiter

	if _, err := il.Check(ctx, "", 1, "a", "ip"); err != nil {
		t.Fatalf("nil issue limiter: %v", err)
	}
	if _, err := vl.Check(ctx, "", "c", "ip"); err != nil {
		t.Fatalf("nil verify limiter: %v", err)
	}
	if _, err := rl.Check(ctx, "", "ip"); err != nil {
		t.Fatalf("nil redeem limiter: %v", err)
	}
}
