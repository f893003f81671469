package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

const (
	defaultMaxImageBytes  = 5 * 1024 * 1024
	defaultMaxDimension   = 1200
	normalizedJPEGQuality = 90
)

var (
	ErrImageTooLarge    = errors.New("storage: image too large")
	ErrUnsupportedImage = errors.New("storage: unsupported image")
)

// ImageProcessor validates uploaded card photos and normalizes them to a bounded JPEG.
type ImageProcessor struct {
	MaxBytes     int64
	MaxDimension int
}

func NewImageProcessor() *ImageProcessor {
	return &ImageProcessor{MaxBytes: defaultMaxImageBytes, MaxDimension: defaultMaxDimension}
}

// Validate accepts JPEG and PNG payloads within the size limit.
func (p *ImageProcessor) Validate(data []byte) error {
	if int64(len(data)) > p.MaxBytes {
		return fmt.Errorf("%w: exceeds %dMB", ErrImageTooLarge, p.MaxBytes/(1024*1024))
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	switch format {
	case "jpeg", "png":
		return nil
	default:
		return fmt.Errorf("%w: format %s (only jpeg/png)", ErrUnsupportedImage, format)
	}
}

// Normalize validates data and re-encodes it as a JPEG fitted inside MaxDimension on both sides.
func (p *ImageProcessor) Normalize(data []byte) ([]byte, error) {
	if err := p.Validate(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	fitted := imaging.Fit(img, p.MaxDimension, p.MaxDimension, imaging.Lanczos)
	buffer := new(bytes.Buffer)
	if err := jpeg.Encode(buffer, fitted, &jpeg.Options{Quality: normalizedJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buffer.Bytes(), nil
}
