package goVerify

import (
	"time"

	"github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/stores"
	"github.com/sirupsen/logrus"
)

// Engine issues and verifies challenges and redeems the action tokens they
// produce. It is safe for concurrent use; all shared state lives in Redis.
type Engine struct {
	config Config

	challenges    *stores.ChallengeStore
	tokens        *stores.ActionTokenStore
	issueLimiter  *limiters.IssueLimiter
	verifyLimiter *limiters.VerifyLimiter
	redeemLimiter *limiters.RedeemLimiter

	gateway  DeliveryGateway
	resolver SubjectResolver
	sandbox  bool

	ephemeralPepper bool

	audit   *audit.Dispatcher
	metrics *Metrics
	logger  logrus.FieldLogger
	clock   Clock
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Policy returns the policy configured for purpose.
func (e *Engine) Policy(purpose Purpose) (PurposePolicy, bool) {
	if e == nil {
		return PurposePolicy{}, false
	}
	p, ok := e.config.Purposes[purpose]
	if !ok {
		return PurposePolicy{}, false
	}
	p.Channels = append([]Channel(nil), p.Channels...)
	return p, true
}

func (e *Engine) ready() bool {
	return e != nil && e.challenges != nil && e.tokens != nil && e.gateway != nil
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock.Now()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) log() logrus.FieldLogger {
	if e == nil || e.logger == nil {
		return logrus.StandardLogger()
	}
	return e.logger
}
