package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// TenantHeader selects the tenant for unauthenticated requests. A bearer
// token's tenant takes precedence.
const TenantHeader = "X-Tenant-ID"

const identityKey = "goverify.identity"

// authenticate stores the bearer token identity when a token is present. A
// present but invalid token is rejected; a missing one is left to handlers.
func authenticate(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token, ok := bearerToken(header)
		if !ok || parser == nil {
			abort(c, http.StatusUnauthorized, codeUnauthorized, "Sign in again to continue.")
			return
		}
		claims, err := parser.Parse(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, codeUnauthorized, "Sign in again to continue.")
			return
		}
		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// rateLimit caps requests per client IP across all /v1 routes.
func rateLimit(formatted string, store limiter.Store, now func() time.Time) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("httpapi: rate limit %q: %w", formatted, err)
	}
	if store == nil {
		store = memory.NewStore()
	}
	instance := limiter.New(store, rate)

	return func(c *gin.Context) {
		lctx, err := instance.Get(c, c.ClientIP())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, goVerify.NewErrorResponse(goVerify.ErrUnavailable))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			resp := goVerify.NewErrorResponse(&goVerify.RateLimitError{
				RetryAfter: time.Unix(lctx.Reset, 0).Sub(now()),
			})
			if resp.RetryAfterSeconds > 0 {
				c.Header("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
			return
		}

		c.Next()
	}, nil
}

// requestLogger logs one line per request. Bodies and raw paths are never
// logged since they carry secrets and challenge ids.
func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"route":      c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Info("request")
		default:
			entry.Debug("request")
		}
	}
}
