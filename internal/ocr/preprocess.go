package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/jpeg" // receipt photos from Telegram arrive as JPEG

	"golang.org/x/image/draw"
)

// minWidth is the width Tesseract works comfortably at. Telegram compresses
// photos aggressively; small scans are upscaled before recognition.
const minWidth = 1200

// Preprocess converts a receipt photo to grayscale PNG, upscaling narrow
// images to minWidth with Catmull-Rom interpolation.
func Preprocess(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", width, height)
	}

	targetW, targetH := width, height
	if width < minWidth {
		scale := float64(minWidth) / float64(width)
		targetW = minWidth
		targetH = int(float64(height) * scale)
	}

	gray := image.NewGray(image.Rect(0, 0, targetW, targetH))
	if targetW == width {
		draw.Draw(gray, gray.Bounds(), src, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(gray, gray.Bounds(), src, bounds, draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}
