package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/jwt"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
)

// Engine is the subset of [*goVerify.Engine] the transport calls.
type Engine interface {
	Issue(ctx context.Context, ownerRef string, purpose goVerify.Purpose, channel goVerify.Channel) (*goVerify.IssueResult, error)
	Resend(ctx context.Context, ownerRef string, purpose goVerify.Purpose) (*goVerify.IssueResult, error)
	Verify(ctx context.Context, challengeID, submitted string) (*goVerify.VerifyResult, error)
	VerifyLink(ctx context.Context, token string) (*goVerify.VerifyResult, error)
	Redeem(ctx context.Context, actionTokenID string, purpose goVerify.Purpose, mutate goVerify.MutationFunc) error
	InspectActionToken(ctx context.Context, actionTokenID string) (*goVerify.ActionTokenInfo, error)
	Health(ctx context.Context) goVerify.HealthStatus
}

// Actions turns a redeem payload into the protected mutation. An error
// rejects the request as INVALID_INPUT before the token is spent.
type Actions interface {
	Prepare(ctx context.Context, purpose goVerify.Purpose, payload json.RawMessage) (goVerify.MutationFunc, error)
}

// TokenParser validates bearer tokens. [*jwt.Manager] implements it.
type TokenParser interface {
	Parse(token string) (*jwt.Claims, error)
}

type Config struct {
	Engine  Engine
	Actions Actions
	// Auth enables bearer authentication. Without it CHANGE_PASSWORD
	// requests are refused.
	Auth TokenParser
	// RateLimit is a per-IP request budget in limiter format, e.g. "120-M".
	// Empty disables it.
	RateLimit string
	// LimiterStore backs RateLimit. Nil uses an in-process store.
	LimiterStore   limiter.Store
	TrustedProxies []string
	Logger         logrus.FieldLogger
	Now            func() time.Time
}

type handler struct {
	engine  Engine
	actions Actions
	auth    TokenParser
	logger  logrus.FieldLogger
	now     func() time.Time
}

// NewRouter builds the gin engine serving every route.
func NewRouter(cfg Config) (*gin.Engine, error) {
	if cfg.Engine == nil {
		return nil, errors.New("httpapi: engine required")
	}
	if cfg.Actions == nil {
		return nil, errors.New("httpapi: actions required")
	}

	h := &handler{
		engine:  cfg.Engine,
		actions: cfg.Actions,
		auth:    cfg.Auth,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	if h.now == nil {
		h.now = time.Now
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("httpapi: trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), requestLogger(h.logger))

	r.GET("/healthz", h.health)

	v1 := r.Group("/v1")
	if cfg.RateLimit != "" {
		mw, err := rateLimit(cfg.RateLimit, cfg.LimiterStore, h.now)
		if err != nil {
			return nil, err
		}
		v1.Use(mw)
	}
	v1.Use(authenticate(h.auth))

	v1.POST("/challenges", h.issue)
	v1.POST("/challenges/resend", h.resend)
	v1.POST("/challenges/:id/verify", h.verify)
	v1.POST("/links/verify", h.verifyLink)
	v1.POST("/tokens/redeem", h.redeem)

	return r, nil
}

func (h *handler) health(c *gin.Context) {
	st := h.engine.Health(c.Request.Context())
	status := http.StatusOK
	if !st.RedisAvailable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"redis":     st.RedisAvailable,
		"latencyMs": st.RedisLatency.Milliseconds(),
	})
}
