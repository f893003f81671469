package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/gin-gonic/gin"
)

const (
	imageFormField       = "image"
	maxUploadBytes       = 5*1024*1024 + 1
	defaultNotifications = 20
)

func (h *httpHandler) handleListFeed(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "offset must be an integer")
		return
	}
	limit, err := queryInt(c, "limit", h.pageSize)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "limit must be an integer")
		return
	}
	page, err := h.cards.ListFeed(c.Request.Context(), c.GetString(userIDContextKey), offset, limit)
	if err != nil {
		h.respondServiceError(c, "list_feed", err)
		return
	}
	respondData(c, http.StatusOK, page)
}

func (h *httpHandler) handleGetCard(c *gin.Context) {
	ref, err := cards.NewCardRef(c.Param("ref"))
	if err != nil {
		h.respondServiceError(c, "get_card", err)
		return
	}
	view, err := h.cards.GetCard(c.Request.Context(), c.GetString(userIDContextKey), ref)
	if err != nil {
		h.respondServiceError(c, "get_card", err)
		return
	}
	respondData(c, http.StatusOK, view)
}

func (h *httpHandler) handleCreateCard(c *gin.Context) {
	userID, input, ok := h.bindCardInput(c)
	if !ok {
		return
	}
	view, err := h.cards.CreateCard(c.Request.Context(), userID, input)
	if err != nil {
		h.respondServiceError(c, "create_card", err)
		return
	}
	respondData(c, http.StatusCreated, view)
}

func (h *httpHandler) handleUpdateCard(c *gin.Context) {
	ref, err := cards.NewCardRef(c.Param("ref"))
	if err != nil {
		h.respondServiceError(c, "update_card", err)
		return
	}
	userID, input, ok := h.bindCardInput(c)
	if !ok {
		return
	}
	view, err := h.cards.UpdateCard(c.Request.Context(), userID, ref, input)
	if err != nil {
		h.respondServiceError(c, "update_card", err)
		return
	}
	respondData(c, http.StatusOK, view)
}

func (h *httpHandler) handleDeleteCard(c *gin.Context) {
	userID, ref, ok := h.actorAndRef(c)
	if !ok {
		return
	}
	if err := h.cards.DeleteCard(c.Request.Context(), userID, ref, c.GetBool(isAdminContextKey)); err != nil {
		h.respondServiceError(c, "delete_card", err)
		return
	}
	respondData(c, http.StatusOK, cards.RecordRef{ID: ref.String()})
}

func (h *httpHandler) handleLikeCard(c *gin.Context) {
	userID, ref, ok := h.actorAndRef(c)
	if !ok {
		return
	}
	result, err := h.cards.LikeCard(c.Request.Context(), userID, ref)
	if err != nil {
		h.respondServiceError(c, "like_card", err)
		return
	}
	respondData(c, http.StatusOK, result)
}

func (h *httpHandler) handleUnlikeCard(c *gin.Context) {
	userID, ref, ok := h.actorAndRef(c)
	if !ok {
		return
	}
	result, err := h.cards.UnlikeCard(c.Request.Context(), userID, ref)
	if err != nil {
		h.respondServiceError(c, "unlike_card", err)
		return
	}
	respondData(c, http.StatusOK, result)
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID, err := cards.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "valid session required")
		return
	}
	limit, err := queryInt(c, "limit", defaultNotifications)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "limit must be an integer")
		return
	}
	notifications, err := h.cards.ListNotifications(c.Request.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(c, "list_notifications", err)
		return
	}
	respondData(c, http.StatusOK, notifications)
}

type uploadResponsePayload struct {
	URL string `json:"url"`
}

func (h *httpHandler) handleUploadImage(c *gin.Context) {
	if h.images == nil {
		abortWithError(c, http.StatusServiceUnavailable, codeStorageUnavailable, "image storage is not configured")
		return
	}
	fileHeader, err := c.FormFile(imageFormField)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "multipart field \"image\" is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "unreadable upload")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "unreadable upload")
		return
	}

	url, err := h.images.UploadCardImage(c.Request.Context(), c.GetString(userIDContextKey), data)
	if err != nil {
		h.respondServiceError(c, "upload_image", err)
		return
	}
	respondData(c, http.StatusCreated, uploadResponsePayload{URL: url})
}

func (h *httpHandler) bindCardInput(c *gin.Context) (cards.UserID, cards.CardInput, bool) {
	userID, err := cards.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "valid session required")
		return "", cards.CardInput{}, false
	}
	var input cards.CardInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "request body must be a card payload")
		return "", cards.CardInput{}, false
	}
	return userID, input, true
}

func (h *httpHandler) actorAndRef(c *gin.Context) (cards.UserID, cards.CardRef, bool) {
	userID, err := cards.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "valid session required")
		return "", "", false
	}
	ref, err := cards.NewCardRef(c.Param("ref"))
	if err != nil {
		h.respondServiceError(c, "card_ref", err)
		return "", "", false
	}
	return userID, ref, true
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
