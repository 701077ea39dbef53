package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/delivery"
	"github.com/MrEthical07/goVerify/internal/accounts"
	"github.com/MrEthical07/goVerify/jwt"
	"github.com/MrEthical07/goVerify/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alicePhone = "+6281234567890"
	aliceEmail = "alice@example.com"
	bobPhone   = "+6281311112222"
)

type fixture struct {
	router  *gin.Engine
	sandbox *delivery.Sandbox
	store   *accounts.MemoryStore
	hasher  *password.Hasher
	tokens  *jwt.Manager
	alice   *accounts.Account
	bob     *accounts.Account
}

func newFixture(t *testing.T, tweak func(*Config)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger, _ := logtest.NewNullLogger()
	sandbox := delivery.NewSandbox(logger, 0)

	store := accounts.NewMemoryStore()
	ctx := context.Background()
	alice := &accounts.Account{TenantID: "0", Phone: alicePhone, Email: aliceEmail}
	require.NoError(t, store.CreateAccount(ctx, alice))
	bob := &accounts.Account{TenantID: "0", Phone: bobPhone}
	require.NoError(t, store.CreateAccount(ctx, bob))

	cfg := goVerify.DefaultConfig()
	cfg.Secret.Pepper = []byte("0123456789abcdef0123456789abcdef")
	cfg.Limits = goVerify.LimitsConfig{}
	forgot := cfg.Purposes[goVerify.PurposeForgotPassword]
	forgot.LinkBaseURL = "https://app.example.com/reset"
	cfg.Purposes[goVerify.PurposeForgotPassword] = forgot

	engine, err := goVerify.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDeliveryGateway(sandbox).
		WithSubjectResolver(accounts.Resolver{Store: store}).
		WithLogger(logger).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	hasher, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)

	tokens, err := jwt.NewManager(jwt.Config{
		TTL:           time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("an-hs256-key-that-is-long-enough!!"),
		Issuer:        "verifyd",
	})
	require.NoError(t, err)

	rc := Config{
		Engine:  engine,
		Actions: accounts.Actions{Store: store, Hasher: hasher, Policy: password.DefaultPolicy()},
		Auth:    tokens,
		Logger:  logger,
	}
	if tweak != nil {
		tweak(&rc)
	}
	router, err := NewRouter(rc)
	require.NoError(t, err)

	return &fixture{
		router:  router,
		sandbox: sandbox,
		store:   store,
		hasher:  hasher,
		tokens:  tokens,
		alice:   alice,
		bob:     bob,
	}
}

func (f *fixture) bearer(t *testing.T, acc *accounts.Account) string {
	t.Helper()
	token, err := f.tokens.Issue(jwt.Identity{AccountID: acc.ID, TenantID: acc.TenantID, Phone: acc.Phone, Email: acc.Email})
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) secret(t *testing.T, destination string) string {
	t.Helper()
	msg, ok := f.sandbox.Last(destination)
	require.True(t, ok, "no message for %s", destination)
	return msg.Secret
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func wrongCode(code string) string {
	if strings.HasPrefix(code, "0") {
		return "1" + code[1:]
	}
	return "0" + code[1:]
}

func TestForgotPasswordOverHTTP(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "/v1/challenges", goVerify.IssueRequest{
		OwnerRef: "081234567890",
		Purpose:  goVerify.PurposeForgotPassword,
		Channel:  goVerify.ChannelOTP,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	issued := decode[goVerify.IssueResponse](t, w)
	assert.Equal(t, 30, issued.CooldownSeconds)
	assert.Equal(t, goVerify.ChannelOTP, issued.Channel)
	assert.NotContains(t, issued.MaskedOwnerRef, "4567")
	assert.InDelta(t, 300, issued.ExpiresInSeconds, 2)

	code := f.secret(t, alicePhone)

	w = f.do(t, "/v1/challenges/"+issued.ChallengeID+"/verify", goVerify.VerifyRequest{SubmittedSecret: wrongCode(code)}, "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	bad := decode[goVerify.ErrorResponse](t, w)
	assert.Equal(t, goVerify.CodeInvalidCode, bad.Code)
	require.NotNil(t, bad.AttemptsRemaining)
	assert.Equal(t, 4, *bad.AttemptsRemaining)

	w = f.do(t, "/v1/challenges/"+issued.ChallengeID+"/verify", goVerify.VerifyRequest{SubmittedSecret: code}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verified := decode[goVerify.VerifyResponse](t, w)
	assert.NotEmpty(t, verified.ActionTokenID)
	assert.InDelta(t, 600, verified.ExpiresInSeconds, 2)

	redeem := goVerify.RedeemRequest{
		ActionTokenID: verified.ActionTokenID,
		Purpose:       goVerify.PurposeForgotPassword,
		Payload:       json.RawMessage(`{"newPassword":"weak"}`),
	}
	w = f.do(t, "/v1/tokens/redeem", redeem, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, goVerify.CodeInvalidInput, decode[goVerify.ErrorResponse](t, w).Code)

	redeem.Payload = json.RawMessage(`{"newPassword":"Abcd1234"}`)
	w = f.do(t, "/v1/tokens/redeem", redeem, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[goVerify.RedeemResponse](t, w).Success)

	acc, err := f.store.AccountByID(context.Background(), "0", f.alice.ID)
	require.NoError(t, err)
	ok, err := f.hasher.Verify("Abcd1234", acc.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	w = f.do(t, "/v1/tokens/redeem", redeem, "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, goVerify.CodeAlreadyConsumed, decode[goVerify.ErrorResponse](t, w).Code)
}

func TestResendDuringCooldown(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "/v1/challenges", goVerify.IssueRequest{OwnerRef: alicePhone, Purpose: goVerify.PurposeForgotPassword}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	issued := decode[goVerify.IssueResponse](t, w)

	w = f.do(t, "/v1/challenges/resend", goVerify.ResendRequest{OwnerRef: alicePhone, Purpose: goVerify.PurposeForgotPassword}, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	limited := decode[goVerify.ErrorResponse](t, w)
	assert.Equal(t, goVerify.CodeRateLimited, limited.Code)
	assert.Equal(t, issued.ChallengeID, limited.ChallengeID)
	assert.InDelta(t, 30, limited.RetryAfterSeconds, 1)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestVerifyLinkOverHTTP(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "/v1/challenges", goVerify.IssueRequest{
		OwnerRef: "Alice@Example.com",
		Purpose:  goVerify.PurposeForgotPassword,
		Channel:  goVerify.ChannelLink,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.InDelta(t, 3600, decode[goVerify.IssueResponse](t, w).ExpiresInSeconds, 2)

	msg, ok := f.sandbox.Last(aliceEmail)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(msg.Link, "https://app.example.com/reset?token="))

	w = f.do(t, "/v1/links/verify", goVerify.LinkVerifyRequest{Token: msg.Secret}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, "/v1/links/verify", goVerify.LinkVerifyRequest{Token: msg.Secret}, "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, goVerify.CodeAlreadyFinalized, decode[goVerify.ErrorResponse](t, w).Code)
}

func TestChangePasswordNeedsBearer(t *testing.T) {
	f := newFixture(t, nil)
	req := goVerify.IssueRequest{OwnerRef: bobPhone, Purpose: goVerify.PurposeChangePassword}

	w := f.do(t, "/v1/challenges", req, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeUnauthorized, decode[goVerify.ErrorResponse](t, w).Code)

	w = f.do(t, "/v1/challenges", req, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// The body names bob but the challenge goes to the signed-in account.
	w = f.do(t, "/v1/challenges", req, f.bearer(t, f.alice))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	issued := decode[goVerify.IssueResponse](t, w)
	_, sentToBob := f.sandbox.Last(bobPhone)
	assert.False(t, sentToBob)

	w = f.do(t, "/v1/challenges/"+issued.ChallengeID+"/verify", goVerify.VerifyRequest{SubmittedSecret: f.secret(t, alicePhone)}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verified := decode[goVerify.VerifyResponse](t, w)

	redeem := goVerify.RedeemRequest{
		ActionTokenID: verified.ActionTokenID,
		Purpose:       goVerify.PurposeChangePassword,
		Payload:       json.RawMessage(`{"newPassword":"Abcd1234"}`),
	}
	w = f.do(t, "/v1/tokens/redeem", redeem, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "/v1/tokens/redeem", redeem, f.bearer(t, f.bob))
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, codeForbidden, decode[goVerify.ErrorResponse](t, w).Code)

	w = f.do(t, "/v1/tokens/redeem", redeem, f.bearer(t, f.alice))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRedeemPurposeMismatchOverHTTP(t *testing.T) {
	f := newFixture(t, nil)

	ctx := context.Background()
	app := &accounts.DealerApplication{TenantID: "0", Phone: "+6281299990000"}
	require.NoError(t, f.store.CreateDealerApplication(ctx, app))

	w := f.do(t, "/v1/challenges", goVerify.IssueRequest{OwnerRef: app.Phone, Purpose: goVerify.PurposeDealerPhoneVerify}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	issued := decode[goVerify.IssueResponse](t, w)

	w = f.do(t, "/v1/challenges/"+issued.ChallengeID+"/verify", goVerify.VerifyRequest{SubmittedSecret: f.secret(t, app.Phone)}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := decode[goVerify.VerifyResponse](t, w).ActionTokenID

	w = f.do(t, "/v1/tokens/redeem", goVerify.RedeemRequest{
		ActionTokenID: token,
		Purpose:       goVerify.PurposeForgotPassword,
		Payload:       json.RawMessage(`{"newPassword":"Abcd1234"}`),
	}, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, goVerify.CodePurposeMismatch, decode[goVerify.ErrorResponse](t, w).Code)

	w = f.do(t, "/v1/tokens/redeem", goVerify.RedeemRequest{ActionTokenID: token, Purpose: goVerify.PurposeDealerPhoneVerify}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	_, err := f.store.DealerApplicationByPhone(ctx, "0", app.Phone)
	assert.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestInvalidRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   goVerify.Code
	}{
		{"malformed json", "/v1/challenges", "{", http.StatusBadRequest, goVerify.CodeInvalidInput},
		{"unknown purpose", "/v1/challenges", goVerify.IssueRequest{OwnerRef: alicePhone, Purpose: "NOPE"}, http.StatusBadRequest, goVerify.CodeInvalidInput},
		{"bad phone", "/v1/challenges", goVerify.IssueRequest{OwnerRef: "12", Purpose: goVerify.PurposeForgotPassword, Channel: goVerify.ChannelOTP}, http.StatusBadRequest, goVerify.CodeInvalidInput},
		{"unknown challenge", "/v1/challenges/7f1c0d8e-4a36-4c4b-9d2e-5d1b3c0f9a11/verify", goVerify.VerifyRequest{SubmittedSecret: "123456"}, http.StatusNotFound, goVerify.CodeNotFound},
		{"garbage link", "/v1/links/verify", goVerify.LinkVerifyRequest{Token: "garbage"}, http.StatusBadRequest, goVerify.CodeInvalidInput},
		{"redeem without token", "/v1/tokens/redeem", goVerify.RedeemRequest{Purpose: goVerify.PurposeForgotPassword}, http.StatusBadRequest, goVerify.CodeInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, tc.path, tc.body, "")
			require.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, decode[goVerify.ErrorResponse](t, w).Code)
		})
	}
}

func TestRequestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RateLimit = "2-M" })

	for i := 0; i < 2; i++ {
		w := f.do(t, "/v1/links/verify", goVerify.LinkVerifyRequest{Token: "garbage"}, "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := f.do(t, "/v1/links/verify", goVerify.LinkVerifyRequest{Token: "garbage"}, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, goVerify.CodeRateLimited, decode[goVerify.ErrorResponse](t, w).Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":true`)
}

func TestNewRouterRequiresCollaborators(t *testing.T) {
	_, err := NewRouter(Config{})
	assert.Error(t, err)

	_, err = NewRouter(Config{Engine: stubEngine{}})
	assert.Error(t, err)

	_, err = NewRouter(Config{Engine: stubEngine{}, Actions: accounts.Actions{}, RateLimit: "lots"})
	assert.Error(t, err)
}

type stubEngine struct{ Engine }

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)
}
