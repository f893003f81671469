package cards

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidCardID indicates that a card identifier is empty or exceeds storage bounds.
	ErrInvalidCardID = errors.New("cards: invalid card id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("cards: invalid user id")
)

// CardRef is a validated card identifier or slug as supplied by a caller.
type CardRef string

// NewCardRef validates raw input and returns a CardRef.
func NewCardRef(rawInput string) (CardRef, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCardID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCardID, maxIdentifierLength)
	}
	return CardRef(trimmed), nil
}

// String returns the underlying string identifier.
func (ref CardRef) String() string {
	return string(ref)
}

// UserID represents a validated canonical user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Card is the persisted polaroid-style profile record.
type Card struct {
	ID        string         `gorm:"column:id;primaryKey;size:64;not null"`
	Slug      string         `gorm:"column:slug;size:96;not null;uniqueIndex"`
	OwnerID   string         `gorm:"column:owner_id;size:190;not null;uniqueIndex"`
	Profile   datatypes.JSON `gorm:"column:profile;not null"`
	ImageURL  string         `gorm:"column:image_url;size:1024;not null;default:''"`
	LikeCount int64          `gorm:"column:like_count;not null;default:0"`
	Shareable bool           `gorm:"column:shareable;not null;default:false;index:idx_cards_feed,priority:1"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index:idx_cards_feed,priority:2"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Card) TableName() string {
	return "cards"
}

// Like records that a user liked a card. The (card, user) pair is unique.
type Like struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	CardID    string    `gorm:"column:card_id;size:64;not null;uniqueIndex:idx_likes_card_user,priority:1"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_likes_card_user,priority:2;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "card_likes"
}

// NotificationKindLike marks a notification created by a like.
const NotificationKindLike = "like"

// Notification tells a card owner that something happened to their card.
type Notification struct {
	ID          string     `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	RecipientID string     `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient,priority:1" json:"recipient_id"`
	ActorID     string     `gorm:"column:actor_id;size:190;not null" json:"actor_id"`
	CardID      string     `gorm:"column:card_id;size:64;not null;index" json:"card_id"`
	Kind        string     `gorm:"column:kind;size:32;not null" json:"kind"`
	Message     string     `gorm:"column:message;size:512;not null" json:"message"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index:idx_notifications_recipient,priority:2" json:"created_at"`
	ReadAt      *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// View is the wire representation of a card shared by the API, the change feed and clients.
type View struct {
	ID            string          `json:"id"`
	Slug          string          `json:"slug"`
	OwnerID       string          `json:"owner_id"`
	Profile       json.RawMessage `json:"profile"`
	ImageURL      string          `json:"image_url"`
	LikeCount     int64           `json:"like_count"`
	LikedByViewer bool            `json:"liked_by_viewer"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Complete reports whether the card is ready to be shown in the public feed.
func (v View) Complete() bool {
	return IsComplete(v.ImageURL, v.Profile)
}

// RecordRef identifies a removed record in a DELETE change.
type RecordRef struct {
	ID string `json:"id"`
}

// NewView converts a stored card into its wire form.
func NewView(card Card, likedByViewer bool) View {
	profile := json.RawMessage(card.Profile)
	if len(profile) == 0 {
		profile = json.RawMessage(emptyProfile)
	}
	return View{
		ID:            card.ID,
		Slug:          card.Slug,
		OwnerID:       card.OwnerID,
		Profile:       append(json.RawMessage(nil), profile...),
		ImageURL:      card.ImageURL,
		LikeCount:     card.LikeCount,
		LikedByViewer: likedByViewer,
		CreatedAt:     card.CreatedAt.UTC(),
		UpdatedAt:     card.UpdatedAt.UTC(),
	}
}

// Page is one slice of the public feed.
type Page struct {
	Cards      []View `json:"cards"`
	NextOffset int    `json:"next_offset"`
	HasMore    bool   `json:"has_more"`
}

// LikeResult reports the server-computed like state after a like or unlike.
type LikeResult struct {
	CardID    string `json:"card_id"`
	Liked     bool   `json:"liked"`
	LikeCount int64  `json:"like_count"`
}

// CardInput carries the mutable fields of a card supplied by its owner.
type CardInput struct {
	Profile  json.RawMessage `json:"profile"`
	ImageURL string          `json:"image_url"`
}

// ChangeType enumerates collection change kinds.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change describes one committed mutation of the card collection.
type Change struct {
	Type        ChangeType `json:"type"`
	Record      *View      `json:"record,omitempty"`
	OldRecord   *RecordRef `json:"old_record,omitempty"`
	CommittedAt time.Time  `json:"commit_timestamp"`
	Origin      string     `json:"origin,omitempty"`
}

// RecordID returns the id of the affected card regardless of change type.
func (c Change) RecordID() string {
	if c.Record != nil && c.Record.ID != "" {
		return c.Record.ID
	}
	if c.OldRecord != nil {
		return c.OldRecord.ID
	}
	return ""
}
