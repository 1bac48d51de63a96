// Package ocr reads payment receipts. Recognition runs through Tesseract
// (rus+eng by default); the extracted text is then scanned for the paid
// amount, date and time.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

// Engine recognizes text on an image.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// TesseractEngine implements Engine with the gosseract client. A fresh
// client is created per call; gosseract clients are not safe for
// concurrent reuse.
type TesseractEngine struct {
	languages     []string
	logger        *zap.Logger
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine constructs a Tesseract-backed engine for the given
// language codes (e.g. "rus", "eng").
func NewTesseractEngine(languages []string, logger *zap.Logger) *TesseractEngine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TesseractEngine{
		languages:     languages,
		logger:        logger,
		clientFactory: gosseract.NewClient,
	}
}

// Recognize runs OCR over the image bytes and returns the plain text.
// The image is preprocessed (grayscale, upscale) first; Telegram photo
// compression leaves receipts small and noisy.
func (e *TesseractEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	prepared, err := Preprocess(image)
	if err != nil {
		e.logger.Debug("preprocess failed, using raw image", zap.Error(err))
		prepared = image
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.languages...); err != nil {
		return "", fmt.Errorf("set languages %v: %w", e.languages, err)
	}
	if err := c.SetImageFromBytes(prepared); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
