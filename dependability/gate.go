package dependability

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/metric"
)

// AnonymousSubject is the principal used when security is disabled
const AnonymousSubject = "anonymous"

// Config configures request authorization
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Algorithm     string        `yaml:"algorithm"`
	Secret        string        `yaml:"secret"`
	PublicKeyFile string        `yaml:"public_key_file"`
	Leeway        time.Duration `yaml:"leeway"`
	RequiredScope string        `yaml:"required_scope"`

	// RevokedTokens are rejected with invalid_grant until they expire
	RevokedTokens []RevokedToken `yaml:"revoked_tokens"`
	// RevocationCleanup is how often expired revocations are dropped
	RevocationCleanup time.Duration `yaml:"revocation_cleanup"`
}

// RevokedToken names a token by its jti claim. Without ExpiresAt the entry
// is kept for the life of the process.
type RevokedToken struct {
	ID        string    `yaml:"id"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

// DefaultConfig returns authorization disabled with HS256 defaults
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		Algorithm:         "HS256",
		Leeway:            0,
		RevocationCleanup: time.Minute,
	}
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	if c.Leeway < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "leeway cannot be negative")
	}
	for i, rt := range c.RevokedTokens {
		if strings.TrimSpace(rt.ID) == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("security.revoked_tokens[%d].id required", i))
		}
	}
	if !c.Enabled {
		return nil
	}
	if c.Algorithm == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "security.algorithm required")
	}
	if c.Secret == "" && c.PublicKeyFile == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"security.secret or security.public_key_file required")
	}
	return nil
}

// AuthorizationRequest carries what the gate needs from an inbound request
type AuthorizationRequest struct {
	// Authorization holds every Authorization header value, in arrival order
	Authorization []string
	// Remote identifies the caller for logs
	Remote string
}

// ClientCredentials is a verified principal
type ClientCredentials struct {
	Subject   string
	TokenID   string
	Issuer    string
	ExpiresAt time.Time
	Scopes    []string
}

// Anonymous returns the credentials used when security is disabled
func Anonymous() *ClientCredentials {
	return &ClientCredentials{Subject: AnonymousSubject}
}

// Deps holds the gate's collaborators
type Deps struct {
	Config      Config
	Verifier    Verifier
	Revocations *RevocationList
	Metrics     *metric.Metrics
	Logger      *slog.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Gate authorizes requests before they reach the scheduler
type Gate struct {
	config      Config
	verifier    Verifier
	revocations *RevocationList
	metrics     *metric.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewGate creates a gate. When security is enabled and no Verifier is given,
// a JWTVerifier is built from the configuration.
func NewGate(deps Deps) (*Gate, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	g := &Gate{
		config:      deps.Config,
		verifier:    deps.Verifier,
		revocations: deps.Revocations,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "dependability")
	if g.now == nil {
		g.now = time.Now
	}
	if g.revocations == nil {
		g.revocations = NewRevocationList()
	}
	g.loadRevocations(g.config.RevokedTokens)

	if g.config.Enabled && g.verifier == nil {
		v, err := NewJWTVerifierFromConfig(g.config)
		if err != nil {
			return nil, err
		}
		g.verifier = v
	}
	return g, nil
}

// never is the expiry recorded for revocations configured without one
var never = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

func (g *Gate) loadRevocations(tokens []RevokedToken) {
	now := g.now()
	loaded := 0
	for _, rt := range tokens {
		expiresAt := rt.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = never
		}
		if !now.Before(expiresAt) {
			continue
		}
		g.revocations.Revoke(strings.TrimSpace(rt.ID), expiresAt)
		loaded++
	}
	if loaded > 0 {
		g.logger.Info("Loaded token revocations", "count", loaded, "configured", len(tokens))
	}
}

// Enabled reports whether tokens are checked
func (g *Gate) Enabled() bool {
	return g.config.Enabled
}

// Revocations returns the revocation list consulted by the gate
func (g *Gate) Revocations() *RevocationList {
	return g.revocations
}

// Authorize verifies the request's bearer token and returns the principal.
// Failures are *AuthError values.
func (g *Gate) Authorize(ctx context.Context, req AuthorizationRequest) (*ClientCredentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.config.Enabled {
		return Anonymous(), nil
	}

	creds, authErr := g.authorize(req)
	if authErr != nil {
		if g.metrics != nil {
			g.metrics.RecordAuthFailure(string(authErr.Code))
		}
		g.logger.Debug("Authorization rejected",
			"code", authErr.Code, "reason", authErr.Description, "remote", req.Remote)
		return nil, authErr
	}
	return creds, nil
}

func (g *Gate) authorize(req AuthorizationRequest) (*ClientCredentials, *AuthError) {
	token, authErr := bearerToken(req.Authorization)
	if authErr != nil {
		return nil, authErr
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		if ae, ok := AsAuthError(err); ok {
			return nil, ae
		}
		return nil, newAuthError(InvalidClient, "token verification failed")
	}

	if g.config.Issuer != "" && claims.Issuer != g.config.Issuer {
		return nil, newAuthError(UnauthorizedClient, "issuer %q not accepted", claims.Issuer)
	}
	if g.config.Audience != "" && !slices.Contains(claims.Audience, g.config.Audience) {
		return nil, newAuthError(UnauthorizedClient, "token not issued for this audience")
	}

	if claims.ExpiresAt.IsZero() {
		return nil, newAuthError(InvalidGrant, "token has no expiry")
	}
	if !g.now().Before(claims.ExpiresAt.Add(g.config.Leeway)) {
		return nil, newAuthError(InvalidGrant, "token expired")
	}
	if claims.ID != "" && g.revocations.IsRevoked(claims.ID) {
		return nil, newAuthError(InvalidGrant, "token revoked")
	}

	if claims.Subject == "" {
		return nil, newAuthError(InvalidClient, "token has no subject")
	}
	if g.config.RequiredScope != "" && !slices.Contains(claims.Scopes, g.config.RequiredScope) {
		return nil, newAuthError(InvalidScope, "scope %q required", g.config.RequiredScope)
	}

	return &ClientCredentials{
		Subject:   claims.Subject,
		TokenID:   claims.ID,
		Issuer:    claims.Issuer,
		ExpiresAt: claims.ExpiresAt,
		Scopes:    claims.Scopes,
	}, nil
}

// bearerToken extracts the token from exactly one "Bearer <token>" value
func bearerToken(values []string) (string, *AuthError) {
	switch len(values) {
	case 0:
		return "", newAuthError(InvalidRequest, "missing Authorization header")
	case 1:
	default:
		return "", newAuthError(InvalidRequest, "duplicate Authorization header")
	}

	scheme, token, found := strings.Cut(strings.TrimSpace(values[0]), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", newAuthError(InvalidRequest, "Authorization scheme must be Bearer")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", newAuthError(InvalidRequest, "empty bearer token")
	}
	return token, nil
}

// RunCleanup drops expired revocations every interval until ctx is done
func (g *Gate) RunCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := g.revocations.Cleanup(g.now()); n > 0 {
				g.logger.Debug("Dropped expired revocations", "count", n, "remaining", g.revocations.Len())
			}
		}
	}
}

// String describes the gate for logs
func (g *Gate) String() string {
	if !g.config.Enabled {
		return "dependability(disabled)"
	}
	return fmt.Sprintf("dependability(iss=%s aud=%s)", g.config.Issuer, g.config.Audience)
}
