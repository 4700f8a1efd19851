package dependability

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/metric"
)

var (
	testSecret = []byte("test-secret-0123456789abcdef")
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Issuer = "https://issuer.example"
	cfg.Audience = "semsub"
	cfg.Secret = string(testSecret)
	return cfg
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": "https://issuer.example",
		"aud": "semsub",
		"sub": "alice",
		"jti": "token-1",
		"exp": testNow.Add(time.Hour).Unix(),
	}
}

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func newTestGate(t *testing.T, cfg Config, m *metric.Metrics) *Gate {
	t.Helper()
	g, err := NewGate(Deps{
		Config:  cfg,
		Metrics: m,
		Now:     func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return g
}

func bearer(token string) AuthorizationRequest {
	return AuthorizationRequest{Authorization: []string{"Bearer " + token}}
}

func assertCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	ae, ok := AsAuthError(err)
	require.True(t, ok, "expected *AuthError, got %T: %v", err, err)
	assert.Equal(t, code, ae.Code, ae.Description)
}

func TestGate_Authorize_Success(t *testing.T) {
	g := newTestGate(t, testConfig(), nil)

	creds, err := g.Authorize(context.Background(), bearer(sign(t, validClaims())))
	require.NoError(t, err)
	assert.Equal(t, "alice", creds.Subject)
	assert.Equal(t, "token-1", creds.TokenID)
	assert.Equal(t, "https://issuer.example", creds.Issuer)
	assert.True(t, creds.ExpiresAt.Equal(testNow.Add(time.Hour)))
}

func TestGate_Authorize_Failures(t *testing.T) {
	with := func(mutate func(jwt.MapClaims)) jwt.MapClaims {
		c := validClaims()
		mutate(c)
		return c
	}

	tests := []struct {
		name string
		req  func(t *testing.T) AuthorizationRequest
		code ErrorCode
	}{
		{
			name: "missing header",
			req:  func(*testing.T) AuthorizationRequest { return AuthorizationRequest{} },
			code: InvalidRequest,
		},
		{
			name: "duplicate header",
			req: func(t *testing.T) AuthorizationRequest {
				tok := sign(t, validClaims())
				return AuthorizationRequest{Authorization: []string{"Bearer " + tok, "Bearer " + tok}}
			},
			code: InvalidRequest,
		},
		{
			name: "basic scheme",
			req: func(*testing.T) AuthorizationRequest {
				return AuthorizationRequest{Authorization: []string{"Basic YWxpY2U6c2VjcmV0"}}
			},
			code: InvalidRequest,
		},
		{
			name: "empty token",
			req: func(*testing.T) AuthorizationRequest {
				return AuthorizationRequest{Authorization: []string{"Bearer   "}}
			},
			code: InvalidRequest,
		},
		{
			name: "malformed token",
			req:  func(*testing.T) AuthorizationRequest { return bearer("not-a-jwt") },
			code: InvalidClient,
		},
		{
			name: "bad signature",
			req: func(t *testing.T) AuthorizationRequest {
				tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("other"))
				require.NoError(t, err)
				return bearer(tok)
			},
			code: InvalidClient,
		},
		{
			name: "wrong issuer",
			req: func(t *testing.T) AuthorizationRequest {
				return bearer(sign(t, with(func(c jwt.MapClaims) { c["iss"] = "https://evil.example" })))
			},
			code: UnauthorizedClient,
		},
		{
			name: "wrong audience",
			req: func(t *testing.T) AuthorizationRequest {
				return bearer(sign(t, with(func(c jwt.MapClaims) { c["aud"] = []string{"other", "another"} })))
			},
			code: UnauthorizedClient,
		},
		{
			name: "expired",
			req: func(t *testing.T) AuthorizationRequest {
				return bearer(sign(t, with(func(c jwt.MapClaims) { c["exp"] = testNow.Add(-time.Second).Unix() })))
			},
			code: InvalidGrant,
		},
		{
			name: "expires exactly now",
			req: func(t *testing.T) AuthorizationRequest {
				return bearer(sign(t, with(func(c jwt.MapClaims) { c["exp"] = testNow.Unix() })))
			},
			code: InvalidGrant,
		},
		{
			name: "no expiry",
			req: func(t *testing.T) AuthorizationRequest {
				return bearer(sign(t, with(func(c jwt.MapClaims) { delete(c, "exp") })))
			},
			code: InvalidGrant,
		},
		{
			name: "missing subject",
			req: func(t *testing.T) AuthorizationRequest {
				return bearer(sign(t, with(func(c jwt.MapClaims) { delete(c, "sub") })))
			},
			code: InvalidClient,
		},
		{
			name: "wrong algorithm",
			req: func(t *testing.T) AuthorizationRequest {
				key, err := rsa.GenerateKey(rand.Reader, 2048)
				require.NoError(t, err)
				tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims()).SignedString(key)
				require.NoError(t, err)
				return bearer(tok)
			},
			code: UnsupportedGrantType,
		},
		{
			name: "alg none",
			req: func(t *testing.T) AuthorizationRequest {
				tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).
					SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return bearer(tok)
			},
			code: UnsupportedGrantType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(t, testConfig(), nil)
			_, err := g.Authorize(context.Background(), tt.req(t))
			assertCode(t, err, tt.code)
		})
	}
}

func TestGate_Leeway(t *testing.T) {
	cfg := testConfig()
	cfg.Leeway = 30 * time.Second
	g := newTestGate(t, cfg, nil)

	claims := validClaims()
	claims["exp"] = testNow.Add(-10 * time.Second).Unix()
	_, err := g.Authorize(context.Background(), bearer(sign(t, claims)))
	assert.NoError(t, err)
}

func TestGate_Revocation(t *testing.T) {
	g := newTestGate(t, testConfig(), nil)
	token := sign(t, validClaims())

	_, err := g.Authorize(context.Background(), bearer(token))
	require.NoError(t, err)

	g.Revocations().Revoke("token-1", testNow.Add(time.Hour))
	_, err = g.Authorize(context.Background(), bearer(token))
	assertCode(t, err, InvalidGrant)
}

func TestGate_RequiredScope(t *testing.T) {
	cfg := testConfig()
	cfg.RequiredScope = "sparql:subscribe"
	g := newTestGate(t, cfg, nil)

	_, err := g.Authorize(context.Background(), bearer(sign(t, validClaims())))
	assertCode(t, err, InvalidScope)

	claims := validClaims()
	claims["scope"] = "sparql:query sparql:subscribe"
	creds, err := g.Authorize(context.Background(), bearer(sign(t, claims)))
	require.NoError(t, err)
	assert.Contains(t, creds.Scopes, "sparql:subscribe")

	claims = validClaims()
	claims["scp"] = []string{"sparql:subscribe"}
	_, err = g.Authorize(context.Background(), bearer(sign(t, claims)))
	assert.NoError(t, err)
}

func TestGate_Disabled(t *testing.T) {
	g := newTestGate(t, DefaultConfig(), nil)

	creds, err := g.Authorize(context.Background(), AuthorizationRequest{})
	require.NoError(t, err)
	assert.Equal(t, AnonymousSubject, creds.Subject)
	assert.False(t, g.Enabled())
}

func TestGate_CancelledContext(t *testing.T) {
	g := newTestGate(t, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Authorize(ctx, bearer(sign(t, validClaims())))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_FailureMetrics(t *testing.T) {
	m := metric.NewMetricsRegistry().CoreMetrics()
	g := newTestGate(t, testConfig(), m)

	_, _ = g.Authorize(context.Background(), AuthorizationRequest{})
	_, _ = g.Authorize(context.Background(), AuthorizationRequest{Authorization: []string{"Bearer a", "Bearer b"}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues(string(InvalidRequest))))
}

func TestGate_ConcurrentAuthorization(t *testing.T) {
	g := newTestGate(t, testConfig(), nil)

	tokens := make([]string, 50)
	for i := range tokens {
		c := validClaims()
		c["sub"] = fmt.Sprintf("client-%d", i)
		c["jti"] = fmt.Sprintf("jti-%d", i)
		tokens[i] = sign(t, c)
	}

	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(2)
		go func(i int, tok string) {
			defer wg.Done()
			creds, err := g.Authorize(context.Background(), bearer(tok))
			if assert.NoError(t, err) {
				assert.Equal(t, fmt.Sprintf("client-%d", i), creds.Subject)
			}
		}(i, tok)
		go func(i int) {
			defer wg.Done()
			g.Revocations().Revoke(fmt.Sprintf("unrelated-%d", i), testNow.Add(time.Minute))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, g.Revocations().Len())
}

func TestGate_ConfiguredRevocations(t *testing.T) {
	cfg := testConfig()
	cfg.RevokedTokens = []RevokedToken{
		{ID: "token-1", ExpiresAt: testNow.Add(time.Hour)},
		{ID: "token-2"},
		{ID: "stale", ExpiresAt: testNow.Add(-time.Minute)},
	}
	g := newTestGate(t, cfg, nil)

	assert.Equal(t, 2, g.Revocations().Len(), "already expired entries are not loaded")
	assert.False(t, g.Revocations().IsRevoked("stale"))

	_, err := g.Authorize(context.Background(), bearer(sign(t, validClaims())))
	assertCode(t, err, InvalidGrant)

	claims := validClaims()
	claims["jti"] = "token-2"
	_, err = g.Authorize(context.Background(), bearer(sign(t, claims)))
	assertCode(t, err, InvalidGrant)

	// entries without an expiry survive cleanup
	assert.Equal(t, 1, g.Revocations().Cleanup(testNow.Add(2*time.Hour)))
	assert.True(t, g.Revocations().IsRevoked("token-2"))

	claims["jti"] = "token-3"
	_, err = g.Authorize(context.Background(), bearer(sign(t, claims)))
	assert.NoError(t, err)
}

func TestNewGate_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Secret = ""
	_, err := NewGate(Deps{Config: cfg})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	cfg = testConfig()
	cfg.Algorithm = "none"
	_, err = NewGate(Deps{Config: cfg})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.RevokedTokens = []RevokedToken{{ID: " "}}
	_, err = NewGate(Deps{Config: cfg})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestJWTVerifier_PublicKeys(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name   string
		alg    string
		method jwt.SigningMethod
		pub    any
		priv   any
	}{
		{"RS256", "RS256", jwt.SigningMethodRS256, &rsaKey.PublicKey, rsaKey},
		{"EdDSA", "EdDSA", jwt.SigningMethodEdDSA, edPub, edPriv},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			der, err := x509.MarshalPKIXPublicKey(tt.pub)
			require.NoError(t, err)
			path := filepath.Join(t.TempDir(), "key.pem")
			require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

			v, err := NewJWTVerifierFromConfig(Config{Algorithm: tt.alg, PublicKeyFile: path})
			require.NoError(t, err)
			assert.Equal(t, tt.alg, v.Algorithm())

			tok, err := jwt.NewWithClaims(tt.method, validClaims()).SignedString(tt.priv)
			require.NoError(t, err)

			claims, err := v.Verify(tok)
			require.NoError(t, err)
			assert.Equal(t, "alice", claims.Subject)
			assert.Equal(t, []string{"semsub"}, claims.Audience)
		})
	}
}

func TestAuthError(t *testing.T) {
	ae := newAuthError(InvalidGrant, "token expired")
	assert.Equal(t, "invalid_grant: token expired", ae.Error())
	assert.Equal(t, http.StatusUnauthorized, ae.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, newAuthError(InvalidRequest, "x").HTTPStatus())

	data, err := json.Marshal(ae)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"invalid_grant","error_description":"token expired"}`, string(data))

	wrapped := fmt.Errorf("gateway: %w", ae)
	assert.ErrorIs(t, wrapped, &AuthError{Code: InvalidGrant})
	assert.NotErrorIs(t, wrapped, &AuthError{Code: InvalidScope})
	assert.ErrorIs(t, newAuthError(InvalidRequest, "dup"), errors.ErrInvalidRequest)
}

func TestRevocationList_Cleanup(t *testing.T) {
	r := NewRevocationList()
	r.Revoke("a", testNow.Add(-time.Minute))
	r.Revoke("b", testNow)
	r.Revoke("c", testNow.Add(time.Minute))

	assert.Equal(t, 2, r.Cleanup(testNow))
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.IsRevoked("c"))
	assert.False(t, r.IsRevoked("a"))
}
