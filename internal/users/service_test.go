package users

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cafecursor/cafecursor/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	tick := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func countIdentities(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}

func TestResolveStripsProviderPrefix(t *testing.T) {
	service, db := newTestService(t)
	claims := auth.SessionClaims{
		UserID:          "GitHub:12345",
		UserEmail:       "Ana@Example.com",
		UserDisplayName: "Ana",
		UserAvatarURL:   "https://example.com/avatar.png",
	}

	for attempt := 0; attempt < 2; attempt++ {
		userID, err := service.ResolveCanonicalUserID(context.Background(), claims)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if userID != "12345" {
			t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
		}
	}
	if count := countIdentities(t, db); count != 1 {
		t.Fatalf("expected a single identity row, got %d", count)
	}

	var stored Identity
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load identity: %v", err)
	}
	if stored.Provider != "github" || stored.Email != "ana@example.com" {
		t.Fatalf("unexpected stored identity %+v", stored)
	}
	if name := service.DisplayName(context.Background(), "12345"); name != "Ana" {
		t.Fatalf("expected display name Ana, got %q", name)
	}
}

func TestResolveRejectsEmptyClaims(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.ResolveCanonicalUserID(context.Background(), auth.SessionClaims{}); err != ErrInvalidIdentity {
		t.Fatalf("expected invalid identity error, got %v", err)
	}
	if _, err := service.ResolveCanonicalUserID(context.Background(), auth.SessionClaims{UserID: "google:"}); err != ErrInvalidIdentity {
		t.Fatalf("expected invalid identity error for empty subject, got %v", err)
	}
}

func TestResolveLinksVerifiedEmailToExistingUser(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	original, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "user-ana", UserEmail: "ana@example.com"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	linked, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "google:98765", UserEmail: "ANA@example.com", UserDisplayName: "Ana G"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if linked != original {
		t.Fatalf("expected google login to join %q, got %q", original, linked)
	}
	if count := countIdentities(t, db); count != 2 {
		t.Fatalf("expected two identities for one user, got %d", count)
	}

	// Default-provider logins never join by email.
	other, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "user-impostor", UserEmail: "ana@example.com"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if other != "user-impostor" {
		t.Fatalf("expected default login to keep its own id, got %q", other)
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	service, db := newTestService(t)
	if name := service.DisplayName(context.Background(), "unknown"); name != "unknown" {
		t.Fatalf("expected fallback to user id, got %q", name)
	}

	identity := Identity{
		Provider:   DefaultProvider,
		Subject:    "user-bob",
		UserID:     "user-bob",
		Email:      "bob@example.com",
		LastSeenAt: time.Unix(10, 0).UTC(),
		CreatedAt:  time.Unix(10, 0).UTC(),
	}
	if err := db.Create(&identity).Error; err != nil {
		t.Fatalf("failed to seed identity: %v", err)
	}
	if name := service.DisplayName(context.Background(), "user-bob"); name != "bob" {
		t.Fatalf("expected email local part, got %q", name)
	}
}

func TestResolveRefreshesProfileFields(t *testing.T) {
	service, db := newTestService(t)
	identity := Identity{
		Provider:    "google",
		Subject:     "abc",
		UserID:      "abc",
		DisplayName: "Old Name",
		LastSeenAt:  time.Unix(10, 0).UTC(),
		CreatedAt:   time.Unix(10, 0).UTC(),
	}
	if err := db.Create(&identity).Error; err != nil {
		t.Fatalf("failed to seed identity: %v", err)
	}

	account, err := service.Resolve(context.Background(), auth.SessionClaims{UserID: "google:abc", UserDisplayName: "New Name"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if account.DisplayName != "New Name" {
		t.Fatalf("expected refreshed display name, got %q", account.DisplayName)
	}
	var stored Identity
	if err := db.Where("subject = ?", "abc").First(&stored).Error; err != nil {
		t.Fatalf("failed to reload identity: %v", err)
	}
	if stored.DisplayName != "New Name" || !stored.LastSeenAt.After(identity.LastSeenAt) {
		t.Fatalf("expected stored identity to be refreshed, got %+v", stored)
	}
}
