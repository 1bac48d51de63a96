// Package parse holds the text normalization and extraction helpers shared
// by the dialog handlers and the OCR receipt reader.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Amount bounds in UZS. Receipts below 1000 UZS do not occur in practice,
// and digit runs of 13+ are card numbers, not sums.
const (
	MinAmount = 1_000
	MaxAmount = 500_000_000
)

var (
	nonDigitRe = regexp.MustCompile(`\D+`)
	amountRe   = regexp.MustCompile(`\b(\d[\d\s.,]{3,})\b`)
	dateRe     = regexp.MustCompile(`\b(\d{1,2})[./-](\d{1,2})[./-](\d{2,4})\b`)
	timeRe     = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)(?::([0-5]\d))?\b`)
)

// DigitsOnly strips everything except ASCII digits.
func DigitsOnly(s string) string {
	return nonDigitRe.ReplaceAllString(s, "")
}

// NormalizeBrand uppercases and collapses internal whitespace.
func NormalizeBrand(brand string) string {
	return strings.Join(strings.Fields(strings.ToUpper(strings.TrimSpace(brand))), " ")
}

// NormalizePhone brings an Uzbek phone number to +998XXXXXXXXX form.
// A bare 9-digit subscriber number gets the country code prefixed; inputs
// longer than 12 digits keep only the last 9. Returns "" for empty input.
func NormalizePhone(raw string) string {
	digits := DigitsOnly(raw)
	if digits == "" {
		return ""
	}
	switch {
	case len(digits) == 9:
		return "+998" + digits
	case len(digits) == 12 && strings.HasPrefix(digits, "998"):
		return "+" + digits
	case len(digits) > 12:
		return "+998" + digits[len(digits)-9:]
	case len(digits) > 9:
		return "+998" + digits[len(digits)-9:]
	}
	return "+" + digits
}

// ParseAmount extracts a payment sum in UZS from free text. Digit runs that
// look like card numbers (13+ digits) are rejected, as are values outside
// [MinAmount, MaxAmount]. Returns 0, false when nothing usable is found.
func ParseAmount(text string) (int64, bool) {
	digits := DigitsOnly(text)
	if digits == "" || len(digits) >= 13 {
		return 0, false
	}
	val, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	if val < MinAmount || val > MaxAmount {
		return 0, false
	}
	return val, true
}

// ExtractAmount scans free-form OCR text for sum candidates and returns the
// largest plausible one. Receipts often carry several numbers (card masks,
// commissions, balances); the payment sum is the biggest in-range value.
// Dates are stripped first: 28.01.2026 collapses to an 8-digit run that
// would otherwise win.
func ExtractAmount(text string) (int64, bool) {
	text = dateRe.ReplaceAllString(text, " ")
	var best int64
	found := false
	for _, m := range amountRe.FindAllString(text, -1) {
		digits := DigitsOnly(m)
		if len(digits) >= 13 {
			continue
		}
		val, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			continue
		}
		if val < MinAmount || val > MaxAmount {
			continue
		}
		if !found || val > best {
			best = val
			found = true
		}
	}
	return best, found
}

// ParseDate finds a d.m.y date in text and returns it as YYYY-MM-DD.
// Two-digit years are taken as 20xx. Invalid calendar dates are rejected.
func ParseDate(text string) (string, bool) {
	m := dateRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 {
		return "", false
	}
	// Round-trip through time.Date to catch Feb 30 and friends.
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || d.Month() != time.Month(month) || d.Day() != day {
		return "", false
	}
	return d.Format("2006-01-02"), true
}

// ParseTime finds an HH:MM[:SS] time in text and returns it as HH:MM:SS.
func ParseTime(text string) (string, bool) {
	m := timeRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss := 0
	if m[3] != "" {
		ss, _ = strconv.Atoi(m[3])
	}
	return fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss), true
}

// ContactTriple is the quick-entry "BRAND-Client-phone" form operators use
// to create a counterparty in one message.
type ContactTriple struct {
	Brand  string
	Client string
	Phone  string
}

// ParseContactTriple splits "BRAND-Client Name-910175253" into its parts.
// Returns nil unless all three parts are present and the phone normalizes.
func ParseContactTriple(text string) *ContactTriple {
	parts := strings.SplitN(strings.TrimSpace(text), "-", 3)
	if len(parts) != 3 {
		return nil
	}
	brand := NormalizeBrand(parts[0])
	client := strings.TrimSpace(parts[1])
	phone := NormalizePhone(parts[2])
	if brand == "" || client == "" || phone == "" {
		return nil
	}
	return &ContactTriple{Brand: brand, Client: client, Phone: phone}
}

// SplitBrandClient splits a counterparty name of the form "BRAND Client
// Name" into brand and client. The brand half is uppercased.
func SplitBrandClient(name string) (brand, client string) {
	s := strings.TrimSpace(name)
	if s == "" {
		return "", ""
	}
	parts := strings.SplitN(s, " ", 2)
	brand = strings.ToUpper(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		client = strings.TrimSpace(parts[1])
	}
	return brand, client
}

// FormatAmount renders 5000000 as "5 000 000" for chat messages.
func FormatAmount(amount int64) string {
	s := strconv.FormatInt(amount, 10)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
