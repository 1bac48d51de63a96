package ocr

import (
	"context"

	"skladbot/internal/parse"
)

// Receipt holds the fields extracted from a recognized payment slip.
// Zero Amount / empty Date mean the field was not found; the dialog falls
// back to manual entry.
type Receipt struct {
	Amount int64
	Date   string // YYYY-MM-DD
	Time   string // HH:MM:SS
	Raw    string

	AmountFound bool
}

// ExtractReceipt scans recognized text for the payment sum, date and time.
func ExtractReceipt(text string) Receipt {
	r := Receipt{Raw: text}
	r.Amount, r.AmountFound = parse.ExtractAmount(text)
	r.Date, _ = parse.ParseDate(text)
	r.Time, _ = parse.ParseTime(text)
	return r
}

// ReadReceipt recognizes the image and extracts receipt fields in one step.
func ReadReceipt(ctx context.Context, engine Engine, image []byte) (Receipt, error) {
	text, err := engine.Recognize(ctx, image)
	if err != nil {
		return Receipt{}, err
	}
	return ExtractReceipt(text), nil
}
