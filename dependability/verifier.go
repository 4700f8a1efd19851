package dependability

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/c360/semsub/errors"
)

// Claims are the token fields the gate decides on
type Claims struct {
	Issuer    string
	Audience  []string
	Subject   string
	ExpiresAt time.Time
	ID        string
	Scopes    []string
}

// Verifier checks a bearer token's integrity and returns its claims.
// It does not judge expiry, issuer or audience.
type Verifier interface {
	Verify(token string) (Claims, error)
}

var errUnexpectedAlgorithm = errors.New("unexpected signing algorithm")

// JWTVerifier verifies compact JWS tokens signed with one configured algorithm
type JWTVerifier struct {
	algorithm string
	key       any
	parser    *jwt.Parser
}

// NewJWTVerifier builds a verifier for algorithm. HMAC algorithms use secret;
// RSA, RSA-PSS, ECDSA and EdDSA algorithms use the PEM public key.
func NewJWTVerifier(algorithm string, secret, publicKeyPEM []byte) (*JWTVerifier, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil || algorithm == jwt.SigningMethodNone.Alg() {
		return nil, errors.WrapInvalid(fmt.Errorf("unsupported algorithm %q", algorithm),
			"JWTVerifier", "New", "select signing method")
	}

	var (
		key any
		err error
	)
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(secret) == 0 {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "JWTVerifier", "New", "HMAC secret required")
		}
		key = secret
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		key, err = jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	case *jwt.SigningMethodECDSA:
		key, err = jwt.ParseECPublicKeyFromPEM(publicKeyPEM)
	case *jwt.SigningMethodEd25519:
		key, err = jwt.ParseEdPublicKeyFromPEM(publicKeyPEM)
	default:
		err = fmt.Errorf("no key type for %s", algorithm)
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "JWTVerifier", "New", "parse verification key")
	}

	return &JWTVerifier{
		algorithm: algorithm,
		key:       key,
		// The gate owns time-based checks so they use its clock
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}, nil
}

// NewJWTVerifierFromConfig builds a verifier from the security configuration,
// reading the public key file when one is configured.
func NewJWTVerifierFromConfig(cfg Config) (*JWTVerifier, error) {
	var pem []byte
	if cfg.PublicKeyFile != "" {
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, errors.WrapInvalid(err, "JWTVerifier", "NewFromConfig", "read public key file")
		}
		pem = data
	}
	return NewJWTVerifier(cfg.Algorithm, []byte(cfg.Secret), pem)
}

// Algorithm returns the accepted signing algorithm
func (v *JWTVerifier) Algorithm() string {
	return v.algorithm
}

// Verify checks the signature and extracts the claims. Tokens signed with any
// other algorithm fail with UnsupportedGrantType; malformed tokens and bad
// signatures fail with InvalidClient.
func (v *JWTVerifier) Verify(token string) (Claims, error) {
	mapClaims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, mapClaims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("%w: %s", errUnexpectedAlgorithm, t.Method.Alg())
		}
		return v.key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Claims{}, newAuthError(InvalidClient, "malformed token")
		case errors.Is(err, errUnexpectedAlgorithm), errors.Is(err, jwt.ErrTokenUnverifiable):
			return Claims{}, newAuthError(UnsupportedGrantType, "token must be signed with %s", v.algorithm)
		default:
			return Claims{}, newAuthError(InvalidClient, "signature verification failed")
		}
	}

	return claimsFrom(mapClaims)
}

func claimsFrom(mc jwt.MapClaims) (Claims, error) {
	var c Claims
	var err error

	if c.Issuer, err = mc.GetIssuer(); err != nil {
		return Claims{}, newAuthError(InvalidClient, "invalid iss claim")
	}
	if c.Subject, err = mc.GetSubject(); err != nil {
		return Claims{}, newAuthError(InvalidClient, "invalid sub claim")
	}
	aud, err := mc.GetAudience()
	if err != nil {
		return Claims{}, newAuthError(InvalidClient, "invalid aud claim")
	}
	c.Audience = aud
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return Claims{}, newAuthError(InvalidClient, "invalid exp claim")
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
	}
	if jti, ok := mc["jti"].(string); ok {
		c.ID = jti
	}
	c.Scopes = scopesFrom(mc)
	return c, nil
}

// scopesFrom reads the space-delimited "scope" claim or the "scp" list
func scopesFrom(mc jwt.MapClaims) []string {
	if s, ok := mc["scope"].(string); ok {
		return strings.Fields(s)
	}
	list, ok := mc["scp"].([]any)
	if !ok {
		return nil
	}
	scopes := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
