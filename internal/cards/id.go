package cards

import (
	"encoding/base32"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	slugSuffixLength = 6
	maxSlugBase      = 48
	fallbackSlugBase = "card"
)

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
	slugDashRuns     = regexp.MustCompile(`-+`)
	slugEncoding     = base32.NewEncoding("abcdefghijkmnpqrstuvwxyz23456789").WithPadding(base32.NoPadding)
)

// IDProvider issues opaque identifiers for cards, likes and notifications.
type IDProvider interface {
	NewID() (string, error)
}

// SlugSuffixProvider issues the random tail appended to shareable slugs.
type SlugSuffixProvider interface {
	NewSuffix() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

type randomSuffixProvider struct{}

// NewRandomSuffixProvider returns a provider of short unambiguous lowercase suffixes.
func NewRandomSuffixProvider() SlugSuffixProvider {
	return randomSuffixProvider{}
}

func (randomSuffixProvider) NewSuffix() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return slugEncoding.EncodeToString(value[:])[:slugSuffixLength], nil
}

// buildSlug turns a handle into "<handle>-<suffix>", falling back to "card" for empty handles.
func buildSlug(handle, suffix string) string {
	base := strings.ToLower(strings.TrimSpace(handle))
	base = strings.TrimPrefix(base, "@")
	base = strings.ReplaceAll(base, " ", "-")
	base = strings.ReplaceAll(base, "_", "-")
	base = slugInvalidChars.ReplaceAllString(base, "")
	base = slugDashRuns.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if len(base) > maxSlugBase {
		base = strings.Trim(base[:maxSlugBase], "-")
	}
	if base == "" {
		base = fallbackSlugBase
	}
	return base + "-" + suffix
}
