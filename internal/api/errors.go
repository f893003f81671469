package api

import (
	"fmt"

	"github.com/cafecursor/cafecursor/internal/cards"
)

// Error is a failed API call. Business failures unwrap to the matching cards sentinel, so
// callers can test them with errors.Is.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return cards.ErrorForCode(e.Code)
}
