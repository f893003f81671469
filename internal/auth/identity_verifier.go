package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// ProviderGoogle names identities verified against Google's signing keys.
	ProviderGoogle = "google"
	// DefaultGoogleJWKSURL serves Google's current ID token signing keys.
	DefaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	defaultJWKSCacheTTL  = 10 * time.Minute
)

var (
	errMissingIDToken        = errors.New("id token must not be empty")
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errUntrustedIssuer       = errors.New("token issuer not allowed")
	errMissingSubject        = errors.New("token missing subject claim")
	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errNoAllowedIssuers      = errors.New("no allowed issuers configured")
	// ErrInvalidVerifierConfig wraps every configuration problem reported by NewIdentityVerifier.
	ErrInvalidVerifierConfig = errors.New("auth: invalid identity verifier config")
)

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// IdentityVerifierConfig configures offline verification of OpenID Connect ID tokens.
type IdentityVerifierConfig struct {
	Provider       string
	Audience       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// VerifiedIdentity is the profile carried by a valid ID token.
type VerifiedIdentity struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
	Expiry      time.Time
}

// SessionClaims maps the identity onto session claims. The provider prefix keeps subjects from
// different providers apart when the user service resolves canonical ids.
func (i VerifiedIdentity) SessionClaims() SessionClaims {
	return SessionClaims{
		UserID:          i.Provider + ":" + i.Subject,
		UserEmail:       i.Email,
		UserDisplayName: i.DisplayName,
		UserAvatarURL:   i.AvatarURL,
	}
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// IdentityVerifier checks RS256 ID tokens against a cached JWKS document.
type IdentityVerifier struct {
	provider string
	audience string
	issuers  map[string]struct{}
	keys     *keySet
	clock    func() time.Time
	logger   *zap.Logger
}

// NewIdentityVerifier validates cfg. Provider defaults to google, and so do the issuers when
// the provider is google.
func NewIdentityVerifier(cfg IdentityVerifierConfig) (*IdentityVerifier, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGoogle
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}

	allowed := cfg.AllowedIssuers
	if len(allowed) == 0 && provider == ProviderGoogle {
		allowed = googleIssuers
	}
	issuers := make(map[string]struct{}, len(allowed))
	for _, issuer := range allowed {
		if normalized := strings.TrimSpace(issuer); normalized != "" {
			issuers[normalized] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errNoAllowedIssuers)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultJWKSCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &IdentityVerifier{
		provider: provider,
		audience: audience,
		issuers:  issuers,
		keys:     newKeySet(jwksURL, httpClient, cacheTTL, logger),
		clock:    clock,
		logger:   logger,
	}, nil
}

// Verify validates rawToken and returns the identity it carries.
func (v *IdentityVerifier) Verify(ctx context.Context, rawToken string) (VerifiedIdentity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return VerifiedIdentity{}, errMissingIDToken
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.keys.lookup(ctx, keyID, v.clock())
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return VerifiedIdentity{}, err
	}

	if _, allowed := v.issuers[claims.Issuer]; !allowed {
		return VerifiedIdentity{}, errUntrustedIssuer
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return VerifiedIdentity{}, errMissingSubject
	}

	identity := VerifiedIdentity{
		Provider:    v.provider,
		Subject:     strings.TrimSpace(claims.Subject),
		DisplayName: strings.TrimSpace(claims.Name),
		AvatarURL:   strings.TrimSpace(claims.Picture),
	}
	if claims.EmailVerified {
		identity.Email = strings.TrimSpace(claims.Email)
	}
	if claims.ExpiresAt != nil {
		identity.Expiry = claims.ExpiresAt.Time
	}
	return identity, nil
}
