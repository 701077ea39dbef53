package goVerify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

const (
	testPhone = "+6281234567890"
	testEmail = "alice@example.com"
)

var testPepper = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// captureGateway records every message and optionally fails delivery.
type captureGateway struct {
	mu      sync.Mutex
	msgs    []Message
	fail    error
	sandbox bool
}

func (g *captureGateway) Deliver(_ context.Context, msg Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return g.fail
	}
	g.msgs = append(g.msgs, msg)
	return nil
}

func (g *captureGateway) Sandbox() bool { return g.sandbox }

func (g *captureGateway) setFail(err error) {
	g.mu.Lock()
	g.fail = err
	g.mu.Unlock()
}

func (g *captureGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.msgs)
}

func (g *captureGateway) last(t testing.TB) Message {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.msgs) == 0 {
		t.Fatal("no message delivered")
	}
	return g.msgs[len(g.msgs)-1]
}

// testConfig disables throttles so that tests exercise only the protocol
// rules, and pins the pepper.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Secret.Pepper = testPepper
	cfg.Limits = LimitsConfig{}

	forgot := cfg.Purposes[PurposeForgotPassword]
	forgot.LinkBaseURL = "https://app.example.com/reset"
	cfg.Purposes[PurposeForgotPassword] = forgot
	return cfg
}

type testEnv struct {
	engine  *Engine
	clock   *testClock
	gateway *captureGateway
	redis   *miniredis.Miniredis
	logs    *logtest.Hook
}

type testOption func(*Builder)

func withResolver(r SubjectResolver) testOption {
	return func(b *Builder) { b.WithSubjectResolver(r) }
}

func withAudit(sink AuditSink) testOption {
	return func(b *Builder) { b.WithAuditSink(sink) }
}

func newTestEnv(t testing.TB, cfg Config, opts ...testOption) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newTestClock()
	gateway := &captureGateway{}
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDeliveryGateway(gateway).
		WithClock(clock).
		WithLogger(logger)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine:  engine,
		clock:   clock,
		gateway: gateway,
		redis:   mr,
		logs:    hook,
	}
}

// accountResolver resolves owners from a fixed map and reports every other
// owner as unknown.
type accountResolver map[string]string

func (r accountResolver) ResolveSubject(_ context.Context, _ Purpose, ownerRef string) (Subject, error) {
	ref, ok := r[ownerRef]
	if !ok {
		return Subject{}, ErrSubjectNotFound
	}
	return Subject{Ref: ref}, nil
}

// wrongCode returns a code of the same length that differs from code.
func wrongCode(code string) string {
	if strings.HasPrefix(code, "0") {
		return "1" + code[1:]
	}
	return "0" + code[1:]
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
