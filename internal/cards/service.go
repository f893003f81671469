package cards

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew        = "cards.service.new"
	opCreateCard        = "cards.create"
	opUpdateCard        = "cards.update"
	opDeleteCard        = "cards.delete"
	opGetCard           = "cards.get"
	opListFeed          = "cards.list_feed"
	opLikeCard          = "cards.like"
	opUnlikeCard        = "cards.unlike"
	opListNotifications = "cards.list_notifications"

	reasonMissingDatabase = "missing_database"
	reasonQueryFailed     = "query_failed"
	reasonIDFailed        = "id_generation_failed"
	reasonSaveFailed      = "save_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonCountFailed     = "count_failed"
	reasonNotifyFailed    = "notification_failed"

	fieldCardID = "card_id"
	fieldUserID = "user_id"

	queryCardRef     = "id = ? OR slug = ?"
	queryCardUser    = "card_id = ? AND user_id = ?"
	orderFeed        = "created_at DESC, id DESC"
	maxSlugAttempts  = 3
	defaultFeedLimit = 20
	maxFeedLimit     = 50
)

// Publisher receives committed collection changes.
type Publisher interface {
	Publish(change Change)
}

// DisplayNamer resolves a user id into a human label for notifications.
type DisplayNamer interface {
	DisplayName(ctx context.Context, userID string) string
}

// ServiceConfig describes the dependencies of the card service.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	IDProvider   IDProvider
	SlugSuffixes SlugSuffixProvider
	Publisher    Publisher
	Names        DisplayNamer
	Logger       *zap.Logger
}

// Service owns card records, like relations and owner notifications.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	suffixes   SlugSuffixProvider
	publisher  Publisher
	names      DisplayNamer
	logger     *zap.Logger
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	suffixes := cfg.SlugSuffixes
	if suffixes == nil {
		suffixes = NewRandomSuffixProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		suffixes:   suffixes,
		publisher:  cfg.Publisher,
		names:      cfg.Names,
		logger:     logger,
	}, nil
}

// CreateCard stores the first version of an owner's card.
func (s *Service) CreateCard(ctx context.Context, ownerID UserID, input CardInput) (View, error) {
	if s.db == nil {
		return View{}, newServiceError(opCreateCard, reasonMissingDatabase, errMissingDatabase)
	}
	validated, err := input.Validate()
	if err != nil {
		return View{}, err
	}

	var created Card
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Card{}).Where("owner_id = ?", ownerID.String()).Count(&existing).Error; err != nil {
			s.logError(opCreateCard, reasonQueryFailed, err, zap.String(fieldUserID, ownerID.String()))
			return newServiceError(opCreateCard, reasonQueryFailed, err)
		}
		if existing > 0 {
			return ErrOwnerHasCard
		}

		cardID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opCreateCard, reasonIDFailed, err)
		}
		slug, err := s.uniqueSlug(tx, PrimaryHandle(validated.Profile))
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		created = Card{
			ID:        cardID,
			Slug:      slug,
			OwnerID:   ownerID.String(),
			Profile:   datatypes.JSON(validated.Profile),
			ImageURL:  validated.ImageURL,
			Shareable: IsComplete(validated.ImageURL, validated.Profile),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			s.logError(opCreateCard, reasonSaveFailed, err, zap.String(fieldUserID, ownerID.String()))
			return newServiceError(opCreateCard, reasonSaveFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return View{}, txErr
	}

	view := NewView(created, false)
	s.publish(ChangeInsert, &view, nil)
	return view, nil
}

// UpdateCard replaces the profile and image of a card owned by actorID. A card that becomes
// complete is announced as an INSERT and one that stops being complete as a DELETE, since
// feeds only carry complete cards.
func (s *Service) UpdateCard(ctx context.Context, actorID UserID, ref CardRef, input CardInput) (View, error) {
	if s.db == nil {
		return View{}, newServiceError(opUpdateCard, reasonMissingDatabase, errMissingDatabase)
	}
	validated, err := input.Validate()
	if err != nil {
		return View{}, err
	}

	var updated Card
	var likedByActor, wasShareable bool
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.lockCard(tx, opUpdateCard, ref)
		if err != nil {
			return err
		}
		if card.OwnerID != actorID.String() {
			return ErrForbidden
		}
		wasShareable = card.Shareable
		card.Profile = datatypes.JSON(validated.Profile)
		card.ImageURL = validated.ImageURL
		card.Shareable = IsComplete(validated.ImageURL, validated.Profile)
		card.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&card).Error; err != nil {
			s.logError(opUpdateCard, reasonSaveFailed, err, zap.String(fieldCardID, card.ID))
			return newServiceError(opUpdateCard, reasonSaveFailed, err)
		}
		likedByActor, err = s.likedBy(tx, card.ID, actorID.String())
		if err != nil {
			return newServiceError(opUpdateCard, reasonQueryFailed, err)
		}
		updated = card
		return nil
	})
	if txErr != nil {
		return View{}, txErr
	}

	broadcast := NewView(updated, false)
	switch {
	case updated.Shareable && !wasShareable:
		s.publish(ChangeInsert, &broadcast, nil)
	case wasShareable && !updated.Shareable:
		s.publish(ChangeDelete, nil, &RecordRef{ID: updated.ID})
	default:
		s.publish(ChangeUpdate, &broadcast, nil)
	}
	return NewView(updated, likedByActor), nil
}

// DeleteCard removes a card with its likes and notifications. Only the owner or an
// administrator may delete.
func (s *Service) DeleteCard(ctx context.Context, actorID UserID, ref CardRef, isAdmin bool) error {
	if s.db == nil {
		return newServiceError(opDeleteCard, reasonMissingDatabase, errMissingDatabase)
	}

	var removedID string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.lockCard(tx, opDeleteCard, ref)
		if err != nil {
			return err
		}
		if card.OwnerID != actorID.String() && !isAdmin {
			return ErrForbidden
		}
		for _, model := range []interface{}{&Like{}, &Notification{}} {
			if err := tx.Where("card_id = ?", card.ID).Delete(model).Error; err != nil {
				s.logError(opDeleteCard, reasonDeleteFailed, err, zap.String(fieldCardID, card.ID))
				return newServiceError(opDeleteCard, reasonDeleteFailed, err)
			}
		}
		if err := tx.Delete(&Card{}, "id = ?", card.ID).Error; err != nil {
			s.logError(opDeleteCard, reasonDeleteFailed, err, zap.String(fieldCardID, card.ID))
			return newServiceError(opDeleteCard, reasonDeleteFailed, err)
		}
		removedID = card.ID
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.publish(ChangeDelete, nil, &RecordRef{ID: removedID})
	return nil
}

// GetCard loads a card by id or slug. viewerID may be empty for anonymous callers.
func (s *Service) GetCard(ctx context.Context, viewerID string, ref CardRef) (View, error) {
	if s.db == nil {
		return View{}, newServiceError(opGetCard, reasonMissingDatabase, errMissingDatabase)
	}
	var card Card
	err := s.db.WithContext(ctx).Where(queryCardRef, ref.String(), ref.String()).Take(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return View{}, ErrCardNotFound
	}
	if err != nil {
		s.logError(opGetCard, reasonQueryFailed, err, zap.String(fieldCardID, ref.String()))
		return View{}, newServiceError(opGetCard, reasonQueryFailed, err)
	}
	liked := false
	if viewerID != "" {
		liked, err = s.likedBy(s.db.WithContext(ctx), card.ID, viewerID)
		if err != nil {
			return View{}, newServiceError(opGetCard, reasonQueryFailed, err)
		}
	}
	return NewView(card, liked), nil
}

// ListFeed returns shareable cards, newest first.
func (s *Service) ListFeed(ctx context.Context, viewerID string, offset, limit int) (Page, error) {
	if s.db == nil {
		return Page{}, newServiceError(opListFeed, reasonMissingDatabase, errMissingDatabase)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}

	var stored []Card
	err := s.db.WithContext(ctx).
		Where("shareable = ?", true).
		Order(orderFeed).
		Offset(offset).
		Limit(limit + 1).
		Find(&stored).Error
	if err != nil {
		s.logError(opListFeed, reasonQueryFailed, err)
		return Page{}, newServiceError(opListFeed, reasonQueryFailed, err)
	}

	hasMore := len(stored) > limit
	if hasMore {
		stored = stored[:limit]
	}

	liked := map[string]bool{}
	if viewerID != "" && len(stored) > 0 {
		ids := make([]string, 0, len(stored))
		for _, card := range stored {
			ids = append(ids, card.ID)
		}
		var likedIDs []string
		err := s.db.WithContext(ctx).Model(&Like{}).
			Where("user_id = ? AND card_id IN ?", viewerID, ids).
			Pluck("card_id", &likedIDs).Error
		if err != nil {
			s.logError(opListFeed, reasonQueryFailed, err, zap.String(fieldUserID, viewerID))
			return Page{}, newServiceError(opListFeed, reasonQueryFailed, err)
		}
		for _, id := range likedIDs {
			liked[id] = true
		}
	}

	page := Page{Cards: make([]View, 0, len(stored)), NextOffset: offset + len(stored), HasMore: hasMore}
	for _, card := range stored {
		page.Cards = append(page.Cards, NewView(card, liked[card.ID]))
	}
	return page, nil
}

// LikeCard records that userID likes the card and returns the recomputed count.
func (s *Service) LikeCard(ctx context.Context, userID UserID, ref CardRef) (LikeResult, error) {
	return s.toggleLike(ctx, opLikeCard, userID, ref, true)
}

// UnlikeCard removes userID's like and returns the recomputed count.
func (s *Service) UnlikeCard(ctx context.Context, userID UserID, ref CardRef) (LikeResult, error) {
	return s.toggleLike(ctx, opUnlikeCard, userID, ref, false)
}

func (s *Service) toggleLike(ctx context.Context, operation string, userID UserID, ref CardRef, like bool) (LikeResult, error) {
	if s.db == nil {
		return LikeResult{}, newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}

	actorName := userID.String()
	if like && s.names != nil {
		actorName = s.names.DisplayName(ctx, userID.String())
	}

	var card Card
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockCard(tx, operation, ref)
		if err != nil {
			return err
		}
		card = locked

		if like {
			if err := s.insertLike(tx, card, userID, actorName); err != nil {
				return err
			}
		} else {
			result := tx.Where(queryCardUser, card.ID, userID.String()).Delete(&Like{})
			if result.Error != nil {
				s.logError(operation, reasonDeleteFailed, result.Error, zap.String(fieldCardID, card.ID))
				return newServiceError(operation, reasonDeleteFailed, result.Error)
			}
			if result.RowsAffected == 0 {
				return ErrNotLiked
			}
		}

		count, err := recountLikes(tx, card.ID)
		if err != nil {
			s.logError(operation, reasonCountFailed, err, zap.String(fieldCardID, card.ID))
			return newServiceError(operation, reasonCountFailed, err)
		}
		card.LikeCount = count
		return nil
	})
	if txErr != nil {
		return LikeResult{}, txErr
	}

	broadcast := NewView(card, false)
	s.publish(ChangeUpdate, &broadcast, nil)
	return LikeResult{CardID: card.ID, Liked: like, LikeCount: card.LikeCount}, nil
}

func (s *Service) insertLike(tx *gorm.DB, card Card, userID UserID, actorName string) error {
	likeID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opLikeCard, reasonIDFailed, err)
	}
	now := s.clock().UTC()
	record := Like{ID: likeID, CardID: card.ID, UserID: userID.String(), CreatedAt: now}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		s.logError(opLikeCard, reasonSaveFailed, result.Error, zap.String(fieldCardID, card.ID))
		return newServiceError(opLikeCard, reasonSaveFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyLiked
	}
	if card.OwnerID == userID.String() {
		return nil
	}

	notificationID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opLikeCard, reasonIDFailed, err)
	}
	notification := Notification{
		ID:          notificationID,
		RecipientID: card.OwnerID,
		ActorID:     userID.String(),
		CardID:      card.ID,
		Kind:        NotificationKindLike,
		Message:     actorName + " liked your card",
		CreatedAt:   now,
	}
	if err := tx.Create(&notification).Error; err != nil {
		s.logError(opLikeCard, reasonNotifyFailed, err, zap.String(fieldCardID, card.ID))
		return newServiceError(opLikeCard, reasonNotifyFailed, err)
	}
	return nil
}

// ListNotifications returns the most recent notifications addressed to userID.
func (s *Service) ListNotifications(ctx context.Context, userID UserID, limit int) ([]Notification, error) {
	if s.db == nil {
		return nil, newServiceError(opListNotifications, reasonMissingDatabase, errMissingDatabase)
	}
	if limit <= 0 || limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	var notifications []Notification
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		s.logError(opListNotifications, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opListNotifications, reasonQueryFailed, err)
	}
	return notifications, nil
}

// recountLikes derives the like counter from the relation table and stores it on the card.
func recountLikes(tx *gorm.DB, cardID string) (int64, error) {
	var count int64
	if err := tx.Model(&Like{}).Where("card_id = ?", cardID).Count(&count).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&Card{}).Where("id = ?", cardID).UpdateColumn("like_count", count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Service) lockCard(tx *gorm.DB, operation string, ref CardRef) (Card, error) {
	var card Card
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryCardRef, ref.String(), ref.String()).
		Take(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Card{}, ErrCardNotFound
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldCardID, ref.String()))
		return Card{}, newServiceError(operation, reasonQueryFailed, err)
	}
	return card, nil
}

func (s *Service) likedBy(tx *gorm.DB, cardID, userID string) (bool, error) {
	var count int64
	if err := tx.Model(&Like{}).Where(queryCardUser, cardID, userID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) uniqueSlug(tx *gorm.DB, handle string) (string, error) {
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		suffix, err := s.suffixes.NewSuffix()
		if err != nil {
			return "", newServiceError(opCreateCard, reasonIDFailed, err)
		}
		candidate := buildSlug(handle, suffix)
		var taken int64
		if err := tx.Model(&Card{}).Where("slug = ?", candidate).Count(&taken).Error; err != nil {
			return "", newServiceError(opCreateCard, reasonQueryFailed, err)
		}
		if taken == 0 {
			return candidate, nil
		}
	}
	return "", newServiceError(opCreateCard, "slug_exhausted", errors.New("no free slug"))
}

func (s *Service) publish(changeType ChangeType, record *View, old *RecordRef) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(Change{
		Type:        changeType,
		Record:      record,
		OldRecord:   old,
		CommittedAt: s.clock().UTC(),
	})
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("cards service error", attrs...)
}
