package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client, "test")
}

func TestHitFixedWindow(t *testing.T) {
	mr, l := newTestLimiter(t)
	ctx := context.Background()
	w := Window{Limit: 3, Period: time.Minute}

	for i := 0; i < 3; i++ {
		if _, err := l.Hit(ctx, "k", w); err != nil {
			t.Fatalf("hit %d failed: %v", i, err)
		}
	}

	retryAfter, err := l.Hit(ctx, "k", w)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry after %v", retryAfter)
	}

	mr.FastForward(time.Minute + time.Second)
	if _, err := l.Hit(ctx, "k", w); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestPeekDoesNotCount(t *testing.T) {
	_, l := newTestLimiter(t)
	ctx := context.Background()
	w := Window{Limit: 1, Period: time.Minute}

	for i := 0; i < 5; i++ {
		if err := l.Peek(ctx, "k", w); err != nil {
			t.Fatalf("peek %d failed: %v", i, err)
		}
	}
	if _, err := l.Hit(ctx, "k", w); err != nil {
		t.Fatalf("hit failed: %v", err)
	}
	if err := l.Peek(ctx, "k", w); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited after budget spent, got %v", err)
	}

	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if err := l.Peek(ctx, "k", w); err != nil {
		t.Fatalf("expected reset counter, got %v", err)
	}
}

func TestDisabledWindowAndNilLimiter(t *testing.T) {
	_, l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := l.Hit(ctx, "k", Window{}); err != nil {
			t.Fatalf("disabled window should never limit: %v", err)
		}
	}

	var nilLimiter *Limiter
	if _, err := nilLimiter.Hit(ctx, "k", Window{Limit: 1, Period: time.Second}); err != nil {
		t.Fatalf("nil limiter should be a no-op: %v", err)
	}
}
