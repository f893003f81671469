package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "cafecursor-auth"
	defaultLeeway        = 5 * time.Second
)

var (
	ErrMissingSessionSigningKey = errors.New("session: signing key required")
	ErrMissingSessionCookieName = errors.New("session: cookie name required")
	ErrMissingSessionToken      = errors.New("session: token required")
	ErrInvalidSessionToken      = errors.New("session: invalid token")
	ErrExpiredSessionToken      = errors.New("session: token expired")
	ErrMissingSessionSubject    = errors.New("session: subject required")
)

// sessionKey is the HS256 secret and issuer shared by TokenIssuer and SessionValidator.
type sessionKey struct {
	secret []byte
	issuer string
}

func newSessionKey(secret []byte, issuer string) (sessionKey, error) {
	if len(secret) == 0 {
		return sessionKey{}, ErrMissingSessionSigningKey
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	return sessionKey{secret: append([]byte(nil), secret...), issuer: issuer}, nil
}

// SessionValidatorConfig describes how to validate session JWTs.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	// Leeway tolerates clock skew on exp/nbf; defaults to 5s.
	Leeway time.Duration
	Clock  func() time.Time
}

// SessionValidator validates HS256 session JWTs presented as a bearer token or a cookie.
type SessionValidator struct {
	key        sessionKey
	cookieName string
	parser     *jwt.Parser
}

func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	key, err := newSessionKey(cfg.SigningSecret, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &SessionValidator{
		key:        key,
		cookieName: cookieName,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(key.issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
			jwt.WithTimeFunc(clock),
		),
	}, nil
}

// CookieName returns the cookie consulted when no bearer token is present.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken parses a session JWT and returns its claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	raw := strings.TrimSpace(tokenString)
	if raw == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	var claims SessionClaims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.key.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return SessionClaims{}, ErrExpiredSessionToken
	case err != nil:
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return claims, nil
}

// ValidateRequest validates the bearer token, falling back to the session cookie.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	token, ok := TokenFromRequest(r, v.cookieName)
	if !ok {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(token)
}

// TokenFromRequest returns the bearer token from the Authorization header or the named cookie.
func TokenFromRequest(r *http.Request, cookieName string) (string, bool) {
	if r == nil {
		return "", false
	}
	if scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " "); found && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	if cookieName == "" {
		return "", false
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return cookie.Value, true
}
