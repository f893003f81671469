package auth

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestTokenIssuerRoundTripsThroughValidator(t *testing.T) {
	clockNow := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		TokenTTL:      30 * time.Minute,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.IssueSessionToken(SessionClaims{
		UserID:          " user-123 ",
		UserDisplayName: "Ana",
		UserRoles:       []string{" Admin", "admin", ""},
	})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte("super-secret"),
		CookieName:    "app_session",
		Clock:         func() time.Time { return clockNow.Add(time.Minute) },
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	claims, err := validator.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("issued token failed validation: %v", err)
	}
	if claims.Subject != "user-123" || claims.UserID != "user-123" || claims.UserDisplayName != "Ana" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !reflect.DeepEqual(claims.UserRoles, []string{RoleAdmin}) {
		t.Fatalf("expected normalized roles, got %v", claims.UserRoles)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}

	other, _, err := issuer.IssueSessionToken(SessionClaims{UserID: "user-123"})
	if err != nil {
		t.Fatalf("second issuance failed: %v", err)
	}
	if other == tokenString {
		t.Fatalf("expected distinct tokens for separate issuances")
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{TokenTTL: 30 * time.Minute}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
}

func TestTokenIssuerRejectsMissingUser(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.IssueSessionToken(SessionClaims{UserID: "  "}); !errors.Is(err, errMissingUserID) {
		t.Fatalf("expected missing user error, got %v", err)
	}
}

func TestTokenIssuerTokenExpires(t *testing.T) {
	clockNow := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	token, expiresIn, err := issuer.IssueSessionToken(SessionClaims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}
	if expiresIn != int64(defaultTokenTTL/time.Second) {
		t.Fatalf("expected default ttl, got %d", expiresIn)
	}

	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte("secret"),
		CookieName:    "app_session",
		Clock:         func() time.Time { return clockNow.Add(defaultTokenTTL + time.Minute) },
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}
