package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const imageContentType = "image/jpeg"

// ObjectStore stores a blob under key and returns its public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Uploader turns raw uploads into normalized, publicly addressable card images.
type Uploader struct {
	processor *ImageProcessor
	store     ObjectStore
	logger    *zap.Logger
}

func NewUploader(processor *ImageProcessor, store ObjectStore, logger *zap.Logger) (*Uploader, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if processor == nil {
		processor = NewImageProcessor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{processor: processor, store: store, logger: logger}, nil
}

// UploadCardImage normalizes data and stores it at cards/<user>/<uuid>.jpg.
func (u *Uploader) UploadCardImage(ctx context.Context, userID string, data []byte) (string, error) {
	normalized, err := u.processor.Normalize(data)
	if err != nil {
		return "", err
	}
	objectID, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	key := ObjectKey(userID, objectID.String())
	url, err := u.store.Put(ctx, key, normalized, imageContentType)
	if err != nil {
		u.logger.Error("image upload failed", zap.String("key", key), zap.Error(err))
		return "", err
	}
	u.logger.Info("image uploaded", zap.String("key", key), zap.Int("bytes", len(normalized)))
	return url, nil
}

func ObjectKey(userID, objectID string) string {
	return fmt.Sprintf("cards/%s/%s.jpg", userID, objectID)
}
