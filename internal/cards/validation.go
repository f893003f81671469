package cards

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const (
	maxProfileBytes  = 16 * 1024
	maxHandleLength  = 64
	maxHandles       = 12
	maxImageURLBytes = 1024
)

// Validate checks the owner-supplied fields and returns the input with a canonical profile.
func (in CardInput) Validate() (CardInput, error) {
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	err := validation.ValidateStruct(&in,
		validation.Field(&in.ImageURL, validation.Length(0, maxImageURLBytes), is.URL),
		validation.Field(&in.Profile, validation.By(validateProfile)),
	)
	if err != nil {
		return CardInput{}, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	canonical, err := CanonicalProfile(in.Profile)
	if err != nil {
		return CardInput{}, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	in.Profile = canonical
	return in, nil
}

func validateProfile(value interface{}) error {
	var raw []byte
	switch typed := value.(type) {
	case json.RawMessage:
		raw = typed
	case []byte:
		raw = typed
	}
	if len(raw) > maxProfileBytes {
		return fmt.Errorf("must not exceed %d bytes", maxProfileBytes)
	}
	if _, err := CanonicalProfile(raw); err != nil {
		return err
	}
	handles := Handles(raw)
	if len(handles) > maxHandles {
		return fmt.Errorf("must list at most %d handles", maxHandles)
	}
	for _, handle := range handles {
		if len(strings.TrimSpace(handle.Handle)) > maxHandleLength {
			return errors.New("handles must be at most 64 characters")
		}
	}
	return nil
}
