package users

import (
	"strings"
	"time"

	"github.com/cafecursor/cafecursor/internal/auth"
)

// DefaultProvider owns identities whose session user id carries no provider prefix, such as
// tokens minted by the token command.
const DefaultProvider = "default"

// Identity links one provider login to the canonical user id that owns cards, likes and
// notifications. Several identities may share a user id once linked by verified email.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:email;size:320;index"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (Identity) TableName() string {
	return "user_identities"
}

// Account is the public face of a user: the name shown in notifications and the avatar.
type Account struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Label returns the best human label for the account.
func (a Account) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.UserID
}

func accountOf(identity Identity) Account {
	name := identity.DisplayName
	if name == "" {
		name = emailLocalPart(identity.Email)
	}
	return Account{UserID: identity.UserID, DisplayName: name, AvatarURL: identity.AvatarURL}
}

// loginKey is the provider-qualified subject parsed out of session claims.
type loginKey struct {
	provider string
	subject  string
}

func (k loginKey) String() string {
	return k.provider + ":" + k.subject
}

// parseLogin accepts "provider:subject" user ids, bare user ids and, as a last resort, the
// email claim.
func parseLogin(claims auth.SessionClaims) loginKey {
	key := loginKey{provider: DefaultProvider, subject: strings.TrimSpace(claims.Subject)}
	raw := strings.TrimSpace(claims.UserID)
	if provider, subject, found := strings.Cut(raw, ":"); found {
		provider, subject = strings.TrimSpace(provider), strings.TrimSpace(subject)
		if provider != "" && subject != "" {
			return loginKey{provider: strings.ToLower(provider), subject: subject}
		}
	} else if raw != "" && key.subject == "" {
		key.subject = raw
	}
	if key.subject == "" {
		key.subject = strings.TrimSpace(claims.UserEmail)
	}
	return key
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
