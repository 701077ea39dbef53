// Command verify-loadtest races concurrent verify and redeem calls against
// the engine and checks that every challenge and token is spent exactly once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// outbox keeps the last secret delivered for each challenge.
type outbox struct {
	mu      sync.Mutex
	secrets map[string]string
}

func (o *outbox) Deliver(_ context.Context, msg goVerify.Message) error {
	o.mu.Lock()
	o.secrets[msg.ChallengeID] = msg.Secret
	o.mu.Unlock()
	return nil
}

func (o *outbox) secret(challengeID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.secrets[challengeID]
}

type challengeState struct {
	challengeID string
	code        string
	tokenID     string
}

func main() {
	var (
		challenges = flag.Int("challenges", 2000, "number of challenges to issue")
		racers     = flag.Int("racers", 8, "concurrent callers per challenge and per token")
		redisAddr  = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *challenges <= 0 || *racers <= 0 {
		fmt.Fprintln(os.Stderr, "challenges and racers must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goVerify.DefaultConfig()
	cfg.Secret.Pepper = []byte("verify-loadtest-pepper-0123456789")
	cfg.Limits = goVerify.LimitsConfig{}
	cfg.Metrics.Enabled = true

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	box := &outbox{secrets: map[string]string{}}
	engine, err := goVerify.New().
		WithConfig(cfg).
		WithRedis(client).
		WithDeliveryGateway(box).
		WithLogger(logger).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]challengeState, *challenges)
	fmt.Printf("issuing %d challenges...\n", *challenges)
	startIssue := time.Now()
	for i := range states {
		res, err := engine.Issue(ctx, fmt.Sprintf("+62812%08d", i), goVerify.PurposeDealerPhoneVerify, goVerify.ChannelOTP)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = challengeState{challengeID: res.ChallengeID, code: box.secret(res.ChallengeID)}
	}
	fmt.Printf("issued in %s\n", time.Since(startIssue).Round(time.Millisecond))

	verifyStats := runVerifyPhase(ctx, engine, states, *racers)
	redeemStats := runRedeemPhase(ctx, engine, states, *racers)

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("redeem", redeemStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: verify_success=%d verify_replay=%d redeem_success=%d redeem_replay=%d stale_retries=%d\n",
		snap.Counters[goVerify.MetricVerifySuccess],
		snap.Counters[goVerify.MetricVerifyReplay],
		snap.Counters[goVerify.MetricRedeemSuccess],
		snap.Counters[goVerify.MetricRedeemReplay],
		snap.Counters[goVerify.MetricVerifyStaleRetry],
	)

	if verifyStats.violations > 0 || redeemStats.violations > 0 {
		fmt.Fprintln(os.Stderr, "FAIL: single-use guarantee violated")
		os.Exit(1)
	}
}

// runVerifyPhase has racers goroutines submit the correct code for every
// challenge at once. Exactly one per challenge may win.
func runVerifyPhase(ctx context.Context, engine *goVerify.Engine, states []challengeState, racers int) phaseStats {
	rec := newRecorder(len(states) * racers)

	start := time.Now()
	for i := range states {
		state := &states[i]
		var (
			wg      sync.WaitGroup
			gate    = make(chan struct{})
			winners atomic.Int32
			mu      sync.Mutex
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				res, err := engine.Verify(ctx, state.challengeID, state.code)
				rec.observe(time.Since(t0), err, goVerify.ErrAlreadyFinalized)
				if err == nil {
					winners.Add(1)
					mu.Lock()
					state.tokenID = res.ActionTokenID
					mu.Unlock()
				}
			}()
		}
		close(gate)
		wg.Wait()
		if winners.Load() != 1 {
			rec.violation()
		}
	}
	return rec.stats(time.Since(start))
}

// runRedeemPhase races racers redeem calls per action token and counts
// mutation runs. Exactly one per token may run.
func runRedeemPhase(ctx context.Context, engine *goVerify.Engine, states []challengeState, racers int) phaseStats {
	rec := newRecorder(len(states) * racers)

	start := time.Now()
	for i := range states {
		state := &states[i]
		if state.tokenID == "" {
			rec.violation()
			continue
		}
		var (
			wg   sync.WaitGroup
			gate = make(chan struct{})
			runs atomic.Int32
		)
		mutation := func(context.Context, string) error {
			runs.Add(1)
			return nil
		}
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				err := engine.Redeem(ctx, state.tokenID, goVerify.PurposeDealerPhoneVerify, mutation)
				rec.observe(time.Since(t0), err, goVerify.ErrAlreadyConsumed)
			}()
		}
		close(gate)
		wg.Wait()
		if runs.Load() != 1 {
			rec.violation()
		}
	}
	return rec.stats(time.Since(start))
}

type recorder struct {
	mu         sync.Mutex
	latencies  []time.Duration
	losers     int64
	failures   int64
	violations int64
}

func newRecorder(capacity int) *recorder {
	return &recorder{latencies: make([]time.Duration, 0, capacity)}
}

// observe records one call. expected is the error a losing racer gets; any
// other error is a failure.
func (r *recorder) observe(d time.Duration, err, expected error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies = append(r.latencies, d)
	switch {
	case err == nil:
	case errors.Is(err, expected):
		r.losers++
	default:
		r.failures++
	}
}

func (r *recorder) violation() {
	r.mu.Lock()
	r.violations++
	r.mu.Unlock()
}

func (r *recorder) stats(total time.Duration) phaseStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := computeStats(total, r.latencies, r.failures)
	s.losers = r.losers
	s.violations = r.violations
	return s
}

type phaseStats struct {
	total      time.Duration
	ops        int
	losers     int64
	failures   int64
	violations int64
	p50        time.Duration
	p95        time.Duration
	p99        time.Duration
	opsPerS    float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d losers=%d failures=%d violations=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.losers,
		s.failures,
		s.violations,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
