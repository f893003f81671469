package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = 30 * time.Minute

var errMissingUserID = errors.New("session: user id required")

// TokenIssuerConfig configures the session JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs session JWTs that SessionValidator accepts.
type TokenIssuer struct {
	key   sessionKey
	ttl   time.Duration
	clock func() time.Time
}

func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	key, err := newSessionKey(cfg.SigningSecret, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{key: key, ttl: ttl, clock: clock}, nil
}

// IssueSessionToken signs the claims and returns the token with its lifetime in seconds.
// Registered claims supplied by the caller are replaced.
func (i *TokenIssuer) IssueSessionToken(claims SessionClaims) (string, int64, error) {
	claims.UserID = strings.TrimSpace(claims.UserID)
	if claims.UserID == "" {
		return "", 0, errMissingUserID
	}
	claims.UserRoles = normalizeRoles(claims.UserRoles)

	issuedAt := i.clock().UTC().Truncate(time.Second)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   claims.UserID,
		Issuer:    i.key.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(i.ttl / time.Second), nil
}
