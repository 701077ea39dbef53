package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func signRaw(t *testing.T, method gjwt.SigningMethod, key any, kid string, claims Claims) string {
	t.Helper()
	tok := gjwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestIssueAndParseIdentity(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "verifyd"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	id := Identity{AccountID: "acc-1", TenantID: "7", Phone: "+6281234567890", Email: "alice@example.com"}
	token, err := m.Issue(id)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Identity() != id {
		t.Fatalf("expected %+v, got %+v", id, claims.Identity())
	}

	if _, err := m.Issue(Identity{}); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token := signRaw(t, gjwt.SigningMethodHS256, []byte("secret-secret-secret-secret-secret"), "", Claims{
		RegisteredClaims: gjwt.RegisteredClaims{Subject: "acc-1", ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseIssuerAudienceAndLeeway(t *testing.T) {
	pub, priv := newEdKeys(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m, err := NewManager(Config{
		TTL:           time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "verifyd",
		Audience:      "api",
		Leeway:        30 * time.Second,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	base := func(iss, aud string, exp time.Duration) Claims {
		return Claims{RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "acc-1",
			Issuer:    iss,
			Audience:  gjwt.ClaimStrings{aud},
			ExpiresAt: gjwt.NewNumericDate(now.Add(exp)),
			IssuedAt:  gjwt.NewNumericDate(now.Add(-time.Minute)),
		}}
	}

	tests := []struct {
		name   string
		claims Claims
		ok     bool
	}{
		{"valid", base("verifyd", "api", time.Minute), true},
		{"wrong issuer", base("other", "api", time.Minute), false},
		{"wrong audience", base("verifyd", "other-api", time.Minute), false},
		{"expired within leeway", base("verifyd", "api", -15*time.Second), true},
		{"expired", base("verifyd", "api", -2*time.Minute), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Parse(signRaw(t, gjwt.SigningMethodEdDSA, priv, "", tc.claims))
			if tc.ok && err != nil {
				t.Fatalf("expected token to parse: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected token to be rejected")
			}
		})
	}
}

func TestParseRequiresSubjectAndExpiry(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: key})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	noSubject := signRaw(t, gjwt.SigningMethodHS256, key, "", Claims{
		RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	if _, err := m.Parse(noSubject); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}

	noExpiry := signRaw(t, gjwt.SigningMethodHS256, key, "", Claims{
		RegisteredClaims: gjwt.RegisteredClaims{Subject: "acc-1"},
	})
	if _, err := m.Parse(noExpiry); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestParseRejectsFutureIAT(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	m, _ := NewManager(Config{TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: key, MaxFutureIAT: time.Minute})

	token := signRaw(t, gjwt.SigningMethodHS256, key, "", Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "acc-1",
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected future iat to be rejected")
	}
}

func TestParseKeyRotation(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		TTL:           time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{RegisteredClaims: gjwt.RegisteredClaims{Subject: "acc-1", ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	if _, err := m.Parse(signRaw(t, gjwt.SigningMethodEdDSA, priv1, "k2", claims)); err == nil {
		t.Fatal("expected unknown kid failure")
	}
	if _, err := m.Parse(signRaw(t, gjwt.SigningMethodEdDSA, priv1, "", claims)); err == nil {
		t.Fatal("expected missing kid failure")
	}
	good := signRaw(t, gjwt.SigningMethodEdDSA, priv1, "k1", claims)
	if _, err := m.Parse(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	other, _ := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub2, VerifyKeys: map[string][]byte{"k1": pub2}})
	if _, err := other.Parse(good); err == nil {
		t.Fatal("expected signature failure with a different key for the same kid")
	}
}

func TestNewManagerValidation(t *testing.T) {
	pub, _ := newEdKeys(t)
	bad := []Config{
		{TTL: 0, SigningMethod: MethodHS256, PrivateKey: make([]byte, 32)},
		{TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{TTL: time.Minute, SigningMethod: MethodEd25519},
		{TTL: time.Minute, SigningMethod: "rs256", PublicKey: pub},
		{TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, Leeway: time.Hour},
		{TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": pub}},
		{TTL: time.Minute, SigningMethod: MethodEd25519, VerifyKeys: map[string][]byte{" ": pub}},
	}
	for i, cfg := range bad {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
