package goVerify

import (
	"errors"

	"github.com/MrEthical07/goVerify/internal"
	"github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/devbypass"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/rate"
	"github.com/MrEthical07/goVerify/internal/stores"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// Build exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	gateway   DeliveryGateway
	resolver  SubjectResolver
	auditSink AuditSink
	logger    logrus.FieldLogger
	clock     Clock

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is deep-copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing challenges, action tokens and throttles.
// Both single-node and cluster clients are accepted.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDeliveryGateway(gateway DeliveryGateway) *Builder {
	b.gateway = gateway
	return b
}

// WithSubjectResolver maps owner references to accounts. Without a resolver
// the normalized owner reference is used as the subject.
func (b *Builder) WithSubjectResolver(resolver SubjectResolver) *Builder {
	b.resolver = resolver
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for operational warnings. Audit events go
// to the audit sink, not here.
func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the stores, throttles, audit
// dispatcher and metrics into a ready [Engine].
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.gateway == nil {
		return nil, errors.New("delivery gateway required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}

	ephemeral := len(cfg.Secret.Pepper) == 0
	if ephemeral {
		pepper, err := internal.NewPepper()
		if err != nil {
			return nil, err
		}
		cfg.Secret.Pepper = pepper
		logger.Warn("goVerify: no secret pepper configured, using an ephemeral one; pending challenges will not survive a restart")
	}

	// -------- STORES --------
	challenges := stores.NewChallengeStore(b.redis, cfg.Store.ChallengePrefix, cfg.Store.Retention, clock.Now)
	tokens := stores.NewActionTokenStore(b.redis, cfg.Store.TokenPrefix, cfg.Store.Retention, clock.Now)

	// -------- THROTTLES --------
	limiter := rate.New(b.redis, cfg.Store.LimiterPrefix)
	issueLimiter := limiters.NewIssueLimiter(limiter, limiters.IssueConfig{
		PerOwner: rateWindow(cfg.Limits.IssuePerOwner),
		PerIP:    rateWindow(cfg.Limits.IssuePerIP),
	})
	verifyLimiter := limiters.NewVerifyLimiter(limiter, limiters.VerifyConfig{
		PerChallenge: rateWindow(cfg.Limits.VerifyPerChallenge),
		PerIP:        rateWindow(cfg.Limits.VerifyPerIP),
	})
	redeemLimiter := limiters.NewRedeemLimiter(limiter, limiters.RedeemConfig{
		PerIP: rateWindow(cfg.Limits.RedeemPerIP),
	})

	// -------- DEV BYPASS --------
	sandbox := false
	if sg, ok := b.gateway.(SandboxGateway); ok {
		sandbox = sg.Sandbox()
	}
	if cfg.Dev.FixedOTP != "" {
		if devbypass.Enabled && sandbox {
			logger.WithField("component", "devbypass").Warn("goVerify: fixed OTP active for sandbox gateway")
		} else {
			logger.WithField("component", "devbypass").Info("goVerify: Dev.FixedOTP ignored")
		}
	}

	e := &Engine{
		config:          cfg,
		challenges:      challenges,
		tokens:          tokens,
		issueLimiter:    issueLimiter,
		verifyLimiter:   verifyLimiter,
		redeemLimiter:   redeemLimiter,
		gateway:         b.gateway,
		resolver:        b.resolver,
		sandbox:         sandbox,
		ephemeralPepper: ephemeral,
		metrics:         NewMetrics(cfg.Metrics),
		logger:          logger,
		clock:           clock,
	}

	// -------- AUDIT --------
	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Now:        clock.Now,
		Logger:     logger.WithField("component", "audit"),
	}, b.auditSink)

	b.built = true
	return e, nil
}

func rateWindow(w Window) rate.Window {
	if !w.enabled() {
		return rate.Window{}
	}
	return rate.Window{Limit: w.Limit, Period: w.Period}
}
