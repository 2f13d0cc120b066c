package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID  = "test-key"
	testIssuer = "https://clerk.tunerboard.example"
)

type jwksFixture struct {
	privateKey *rsa.PrivateKey
	server     *httptest.Server
	fetches    atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	fixture := &jwksFixture{privateKey: privateKey}

	jwksResponse := map[string]any{
		"keys": []any{
			map[string]string{
				"kty": "RSA",
				"alg": "RS256",
				"kid": testKeyID,
				"use": "sig",
				"n":   encodeBigInt(privateKey.PublicKey.N),
				"e":   encodeBigInt(privateKey.PublicKey.E),
			},
			map[string]string{"kty": "EC", "kid": "ignored"},
		},
	}
	fixture.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		fixture.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(jwksResponse)
	}))
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *jwksFixture) url() string {
	return f.server.URL + "/.well-known/jwks.json"
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims, keyID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if keyID != "" {
		token.Header["kid"] = keyID
	}
	signed, err := token.SignedString(f.privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func sessionClaims(subject string, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": testIssuer,
		"sub": subject,
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	}
}

func TestJWKSVerifierValidatesSessionToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier, err := NewJWKSVerifier(JWKSVerifierConfig{
		JWKSURL:    fixture.url(),
		Issuer:     testIssuer,
		HTTPClient: fixture.server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	now := time.Now().UTC()
	userID, err := verifier.VerifySession(context.Background(), fixture.sign(t, sessionClaims("user_123", now), testKeyID))
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if userID != "user_123" {
		t.Fatalf("unexpected subject %s", userID)
	}

	if _, err := verifier.VerifySession(context.Background(), fixture.sign(t, sessionClaims("user_456", now), testKeyID)); err != nil {
		t.Fatalf("second verification failed: %v", err)
	}
	if fixture.fetches.Load() != 1 {
		t.Fatalf("expected keys to be cached, fetched %d times", fixture.fetches.Load())
	}
}

func TestJWKSVerifierRejectsBadTokens(t *testing.T) {
	fixture := newJWKSFixture(t)
	now := time.Now().UTC()
	verifier, err := NewJWKSVerifier(JWKSVerifierConfig{
		JWKSURL:    fixture.url(),
		Issuer:     testIssuer,
		HTTPClient: fixture.server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	expired := sessionClaims("user_123", now)
	expired["exp"] = now.Add(-time.Minute).Unix()
	foreignIssuer := sessionClaims("user_123", now)
	foreignIssuer["iss"] = "https://elsewhere.example"
	noSubject := sessionClaims("", now)

	testCases := []struct {
		name   string
		token  string
		target error
	}{
		{name: "empty", token: " ", target: ErrMissingSession},
		{name: "expired", token: fixture.sign(t, expired, testKeyID), target: ErrExpiredSession},
		{name: "foreign-issuer", token: fixture.sign(t, foreignIssuer, testKeyID), target: ErrInvalidSession},
		{name: "unknown-key", token: fixture.sign(t, sessionClaims("user_123", now), "rotated"), target: ErrInvalidSession},
		{name: "missing-kid", token: fixture.sign(t, sessionClaims("user_123", now), ""), target: ErrInvalidSession},
		{name: "missing-subject", token: fixture.sign(t, noSubject, testKeyID), target: ErrMissingSessionSubject},
		{name: "garbage", token: "not.a.jwt", target: ErrInvalidSession},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := verifier.VerifySession(context.Background(), testCase.token)
			if !errors.Is(err, testCase.target) {
				t.Fatalf("expected %v, got %v", testCase.target, err)
			}
		})
	}
}

func TestJWKSVerifierRejectsHS256Tokens(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier, err := NewJWKSVerifier(JWKSVerifierConfig{JWKSURL: fixture.url(), HTTPClient: fixture.server.Client()})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims("user_123", time.Now()))
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := verifier.VerifySession(context.Background(), signed); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected invalid session, got %v", err)
	}
}

func TestJWKSVerifierRefreshesOnceForConcurrentCallers(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier, err := NewJWKSVerifier(JWKSVerifierConfig{JWKSURL: fixture.url(), HTTPClient: fixture.server.Client()})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	token := fixture.sign(t, sessionClaims("user_123", time.Now().UTC()), testKeyID)

	var wg sync.WaitGroup
	failures := atomic.Int32{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := verifier.VerifySession(context.Background(), token); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	if failures.Load() != 0 {
		t.Fatalf("expected all verifications to succeed, %d failed", failures.Load())
	}
	if fetches := fixture.fetches.Load(); fetches < 1 || fetches > 8 {
		t.Fatalf("unexpected fetch count %d", fetches)
	}
}

func TestJWKSVerifierRefreshIgnoresCallerCancellation(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier, err := NewJWKSVerifier(JWKSVerifierConfig{
		JWKSURL:    fixture.url(),
		Issuer:     testIssuer,
		HTTPClient: fixture.server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	userID, err := verifier.VerifySession(ctx, fixture.sign(t, sessionClaims("user_123", time.Now().UTC()), testKeyID))
	if err != nil {
		t.Fatalf("a cancelled caller must not fail the shared key refresh: %v", err)
	}
	if userID != "user_123" || fixture.fetches.Load() != 1 {
		t.Fatalf("unexpected result %q after %d fetches", userID, fixture.fetches.Load())
	}
}

func TestJWKSVerifierRefetchesAfterTTL(t *testing.T) {
	fixture := newJWKSFixture(t)
	now := time.Now().UTC()
	verifier, err := NewJWKSVerifier(JWKSVerifierConfig{
		JWKSURL:    fixture.url(),
		HTTPClient: fixture.server.Client(),
		CacheTTL:   time.Minute,
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := verifier.VerifySession(context.Background(), fixture.sign(t, sessionClaims("user_123", now), testKeyID)); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := verifier.VerifySession(context.Background(), fixture.sign(t, sessionClaims("user_123", now), testKeyID)); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	if fixture.fetches.Load() != 2 {
		t.Fatalf("expected a refetch after ttl, got %d fetches", fixture.fetches.Load())
	}
}

func TestNewJWKSVerifierRequiresURL(t *testing.T) {
	_, err := NewJWKSVerifier(JWKSVerifierConfig{JWKSURL: " "})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingJWKSURL.Error()) {
		t.Fatalf("expected jwks validation error to be reported, got %v", err)
	}
}

func encodeBigInt(value interface{}) string {
	switch v := value.(type) {
	case *big.Int:
		return base64.RawURLEncoding.EncodeToString(v.Bytes())
	case int:
		return encodeBigInt(int64(v))
	case int64:
		return base64.RawURLEncoding.EncodeToString(big.NewInt(v).Bytes())
	default:
		return ""
	}
}
