package cards

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

const emptyProfile = "{}"

var errProfileNotObject = errors.New("profile must be a JSON object")

// Handle is one social or developer handle listed on a card.
type Handle struct {
	Platform string `json:"platform,omitempty"`
	Handle   string `json:"handle"`
}

type profileHandles struct {
	Handles []Handle `json:"handles"`
}

// Handles extracts the handle list from a profile document. Malformed documents yield none.
func Handles(profile []byte) []Handle {
	if len(bytes.TrimSpace(profile)) == 0 {
		return nil
	}
	var decoded profileHandles
	if err := json.Unmarshal(profile, &decoded); err != nil {
		return nil
	}
	return decoded.Handles
}

// PrimaryHandle returns the first non-empty handle on the profile.
func PrimaryHandle(profile []byte) string {
	for _, handle := range Handles(profile) {
		if trimmed := strings.TrimSpace(handle.Handle); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// IsComplete reports whether a card has a resolved image and at least one non-empty handle.
// Incomplete cards are still being created and are not shown in the feed.
func IsComplete(imageURL string, profile []byte) bool {
	if strings.TrimSpace(imageURL) == "" {
		return false
	}
	return PrimaryHandle(profile) != ""
}

// CanonicalProfile re-encodes a profile document with sorted keys so equal documents compare
// byte-for-byte. An empty input becomes "{}".
func CanonicalProfile(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte(emptyProfile), nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errProfileNotObject
	}
	if decoded == nil {
		return []byte(emptyProfile), nil
	}
	return json.Marshal(decoded)
}
