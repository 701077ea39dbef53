package goVerify

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricChallengeIssued counts challenges created and delivered.
	MetricChallengeIssued MetricID = iota
	// MetricChallengeResent counts issuances made through Resend.
	MetricChallengeResent
	// MetricChallengeSuperseded counts PENDING challenges replaced by a newer one.
	MetricChallengeSuperseded
	// MetricIssueRateLimited counts issuances refused by cooldown or throttle.
	MetricIssueRateLimited
	// MetricDeliveryFailed counts gateway failures; each one is rolled back.
	MetricDeliveryFailed
	// MetricVerifySuccess counts challenges consumed by a matching secret.
	MetricVerifySuccess
	// MetricVerifyInvalidCode counts mismatched secrets.
	MetricVerifyInvalidCode
	// MetricVerifyAttemptsExceeded counts challenges moved to FAILED.
	MetricVerifyAttemptsExceeded
	// MetricVerifyExpired counts verify calls against an expired challenge.
	MetricVerifyExpired
	// MetricVerifyReplay counts verify calls against a finalized challenge.
	MetricVerifyReplay
	// MetricVerifyRateLimited counts verify calls refused by the throttle.
	MetricVerifyRateLimited
	// MetricVerifyStaleRetry counts compare-and-set retries in verify.
	MetricVerifyStaleRetry
	// MetricActionTokenIssued counts action tokens minted.
	MetricActionTokenIssued
	// MetricRedeemSuccess counts tokens whose protected action succeeded.
	MetricRedeemSuccess
	// MetricRedeemExpired counts redeem calls against an expired token.
	MetricRedeemExpired
	// MetricRedeemReplay counts redeem calls against a consumed token.
	MetricRedeemReplay
	// MetricRedeemPurposeMismatch counts tokens presented for the wrong purpose.
	MetricRedeemPurposeMismatch
	// MetricRedeemActionFailed counts consumed tokens whose action failed.
	MetricRedeemActionFailed
	// MetricRedeemRateLimited counts redeem calls refused by the throttle.
	MetricRedeemRateLimited
	// MetricDeliveryLatency is the only histogram: time spent in the gateway.
	MetricDeliveryLatency
)

// Counters occupy the ids below counterIDCount.
const counterIDCount = MetricDeliveryLatency

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the inclusive upper bounds of the delivery latency
// buckets. The last bucket is unbounded.
var HistogramBounds = [histBucketCount - 1]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

// counterSlot keeps each counter on its own cache line.
type counterSlot struct {
	n atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters plus the delivery latency
// histogram. A nil or disabled Metrics accepts every call and records nothing.
type Metrics struct {
	enabled  bool
	latency  bool
	counters [counterIDCount]counterSlot
	delivery [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc bumps a counter. Histogram ids are ignored.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= counterIDCount {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d against id. Only MetricDeliveryLatency has a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricDeliveryLatency {
		return
	}
	m.delivery[bucketIndex(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= counterIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < counterIDCount; id++ {
		s.Counters[id] = m.counters[id].n.Load()
	}
	if m.latency {
		buckets := make([]uint64, histBucketCount)
		for i := range m.delivery {
			buckets[i] = m.delivery[i].Load()
		}
		s.Histograms[MetricDeliveryLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
