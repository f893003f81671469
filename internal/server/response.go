package server

import (
	"errors"
	"net/http"

	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/cafecursor/cafecursor/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeUnauthorized       = "unauthorized"
	codeInvalidRequest     = "invalid_request"
	codeInternal           = "internal_error"
	codeStorageUnavailable = "storage_unavailable"
	codeImageTooLarge      = "image_too_large"
	codeUnsupportedImage   = "unsupported_image"
)

var businessStatus = map[string]int{
	cards.CodeCardNotFound: http.StatusNotFound,
	cards.CodeOwnerHasCard: http.StatusConflict,
	cards.CodeAlreadyLiked: http.StatusConflict,
	cards.CodeNotLiked:     http.StatusConflict,
	cards.CodeForbidden:    http.StatusForbidden,
	cards.CodeInvalidCard:  http.StatusBadRequest,
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

// respondServiceError maps business errors to their codes and hides infrastructure failures.
func (h *httpHandler) respondServiceError(c *gin.Context, operation string, err error) {
	if code, ok := cards.BusinessCode(err); ok {
		abortWithError(c, businessStatus[code], code, err.Error())
		return
	}
	switch {
	case errors.Is(err, cards.ErrInvalidCardID), errors.Is(err, cards.ErrInvalidUserID):
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, storage.ErrImageTooLarge):
		abortWithError(c, http.StatusRequestEntityTooLarge, codeImageTooLarge, err.Error())
	case errors.Is(err, storage.ErrUnsupportedImage):
		abortWithError(c, http.StatusUnsupportedMediaType, codeUnsupportedImage, err.Error())
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
