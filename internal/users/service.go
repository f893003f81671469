package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cafecursor/cafecursor/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maps provider logins onto canonical user ids and answers display-name lookups for
// notification messages.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger

	mu       sync.RWMutex
	logins   map[loginKey]string
	accounts map[string]Account
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		now:      clock,
		logger:   logger,
		logins:   make(map[loginKey]string),
		accounts: make(map[string]Account),
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the session claims, registering the
// login on first sight.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	account, err := s.Resolve(ctx, claims)
	if err != nil {
		return "", err
	}
	return account.UserID, nil
}

// Resolve returns the account behind the session claims. A first login from a non-default
// provider whose email matches a known identity joins that identity's user id.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (Account, error) {
	key := parseLogin(claims)
	if key.subject == "" {
		return Account{}, ErrInvalidIdentity
	}

	s.mu.RLock()
	userID, known := s.logins[key]
	account := s.accounts[userID]
	s.mu.RUnlock()
	if known {
		return account, nil
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", key.provider, key.subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity, err = s.register(ctx, key, claims)
		if err != nil {
			return Account{}, err
		}
	case err != nil:
		return Account{}, err
	default:
		identity = s.touch(ctx, identity, claims)
	}

	account = accountOf(identity)
	s.mu.Lock()
	s.logins[key] = identity.UserID
	s.accounts[identity.UserID] = account
	s.mu.Unlock()
	return account, nil
}

// DisplayName returns the label used in notification messages for a canonical user id.
func (s *Service) DisplayName(ctx context.Context, userID string) string {
	s.mu.RLock()
	account, cached := s.accounts[userID]
	s.mu.RUnlock()
	if cached {
		return account.Label()
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_seen_at DESC").
		First(&identity).
		Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("display name lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return userID
	}
	return accountOf(identity).Label()
}

func (s *Service) register(ctx context.Context, key loginKey, claims auth.SessionClaims) (Identity, error) {
	now := s.now().UTC()
	identity := Identity{
		Provider:    key.provider,
		Subject:     key.subject,
		UserID:      key.subject,
		Email:       normalizeEmail(claims.UserEmail),
		DisplayName: strings.TrimSpace(claims.UserDisplayName),
		AvatarURL:   strings.TrimSpace(claims.UserAvatarURL),
		LastSeenAt:  now,
		CreatedAt:   now,
	}
	if linked, ok := s.linkedUserID(ctx, key, identity.Email); ok {
		identity.UserID = linked
		s.logger.Info("linked login to existing user",
			zap.String("provider", key.provider),
			zap.String("user_id", linked),
		)
	}

	// A concurrent first login for the same key may win the insert; re-read either way.
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&identity).
		Error
	if err != nil {
		return Identity{}, err
	}
	var stored Identity
	err = s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", key.provider, key.subject).
		First(&stored).
		Error
	if err != nil {
		return Identity{}, err
	}
	return stored, nil
}

func (s *Service) linkedUserID(ctx context.Context, key loginKey, email string) (string, bool) {
	if key.provider == DefaultProvider || email == "" {
		return "", false
	}
	var existing Identity
	err := s.db.WithContext(ctx).
		Where("email = ? AND NOT (provider = ? AND subject = ?)", email, key.provider, key.subject).
		Order("created_at ASC").
		First(&existing).
		Error
	if err != nil {
		return "", false
	}
	return existing.UserID, true
}

// touch refreshes profile fields the provider reports and bumps last_seen_at. Failures are
// logged and the stored identity is returned unchanged.
func (s *Service) touch(ctx context.Context, identity Identity, claims auth.SessionClaims) Identity {
	updated := identity
	updated.LastSeenAt = s.now().UTC()
	if email := normalizeEmail(claims.UserEmail); email != "" {
		updated.Email = email
	}
	if name := strings.TrimSpace(claims.UserDisplayName); name != "" {
		updated.DisplayName = name
	}
	if avatar := strings.TrimSpace(claims.UserAvatarURL); avatar != "" {
		updated.AvatarURL = avatar
	}

	err := s.db.WithContext(ctx).Model(&Identity{}).
		Where("provider = ? AND subject = ?", identity.Provider, identity.Subject).
		Updates(map[string]any{
			"email":        updated.Email,
			"display_name": updated.DisplayName,
			"avatar_url":   updated.AvatarURL,
			"last_seen_at": updated.LastSeenAt,
		}).
		Error
	if err != nil {
		s.logger.Warn("identity refresh failed", zap.String("user_id", identity.UserID), zap.Error(err))
		return identity
	}
	return updated
}
