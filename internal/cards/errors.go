package cards

import (
	"errors"
	"fmt"
)

// Business errors. Each maps to a stable API error code so clients can react to them
// specifically instead of showing a generic failure.
var (
	ErrCardNotFound = errors.New("cards: card not found")
	ErrOwnerHasCard = errors.New("cards: owner already has a card")
	ErrAlreadyLiked = errors.New("cards: card already liked")
	ErrNotLiked     = errors.New("cards: card not liked")
	ErrForbidden    = errors.New("cards: not allowed")
	ErrInvalidCard  = errors.New("cards: invalid card")
)

// Error codes shared by the HTTP API and its clients.
const (
	CodeCardNotFound = "card_not_found"
	CodeOwnerHasCard = "card_exists"
	CodeAlreadyLiked = "already_liked"
	CodeNotLiked     = "not_liked"
	CodeForbidden    = "forbidden"
	CodeInvalidCard  = "invalid_card"
)

var businessCodes = map[string]error{
	CodeCardNotFound: ErrCardNotFound,
	CodeOwnerHasCard: ErrOwnerHasCard,
	CodeAlreadyLiked: ErrAlreadyLiked,
	CodeNotLiked:     ErrNotLiked,
	CodeForbidden:    ErrForbidden,
	CodeInvalidCard:  ErrInvalidCard,
}

// BusinessCode returns the API code for a business error and whether err is one.
func BusinessCode(err error) (string, bool) {
	for code, sentinel := range businessCodes {
		if errors.Is(err, sentinel) {
			return code, true
		}
	}
	return "", false
}

// ErrorForCode returns the business sentinel registered for an API code, or nil.
func ErrorForCode(code string) error {
	return businessCodes[code]
}

// ServiceError reports an infrastructure failure with an "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
