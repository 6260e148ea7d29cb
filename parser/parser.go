package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/aluiziolira/book-repricer/models"
	"golang.org/x/text/width"
)

// TimestampLayout is the catalog's update-time format.
const TimestampLayout = "2006/01/02 15:04:05"

// DateLayout is the date part of TimestampLayout.
const DateLayout = "2006/01/02"

var dateLayouts = []string{"2006/1/2", "2006-1-2", "2006.1.2"}

// ValidateQuote ensures a fetched quote can be written back.
func ValidateQuote(q *models.Quote) error {
	if q == nil {
		return fmt.Errorf("quote is nil")
	}
	if strings.TrimSpace(q.ISBN) == "" {
		return fmt.Errorf("quote missing isbn")
	}
	if q.Price < 0 {
		return fmt.Errorf("quote for %s has negative price %d", q.ISBN, q.Price)
	}
	if q.ObservedAt.IsZero() {
		return fmt.Errorf("quote for %s missing observation time", q.ISBN)
	}
	return nil
}

// NormalizeText folds full-width characters and collapses whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(width.Narrow.String(text)), " ")
}

// ExtractPrice returns the first run of digits in text as an integer.
// Thousands separators inside the run are skipped, so "1,490円" yields 1490.
func ExtractPrice(text string) (int, bool) {
	text = width.Narrow.String(text)
	runes := []rune(text)

	var digits strings.Builder
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ',' && digits.Len() > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i+1]):
			continue
		case digits.Len() > 0:
			i = len(runes)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	value, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseEstimate reads a previously stored estimate cell.
// Empty or non-numeric cells report false.
func ParseEstimate(cell string) (int, bool) {
	cell = strings.TrimSpace(width.Narrow.String(cell))
	if cell == "" {
		return 0, false
	}
	cell = strings.TrimPrefix(cell, "¥")
	cell = strings.TrimSuffix(cell, "円")
	cell = strings.ReplaceAll(cell, ",", "")
	value, err := strconv.Atoi(strings.TrimSpace(cell))
	if err != nil {
		return 0, false
	}
	return value, true
}

// FormatTimestamp renders t in loc using TimestampLayout.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(TimestampLayout)
}

// SameDay reports whether the date part of an update-time cell equals
// the calendar date of today. Empty cells never match.
func SameDay(cell string, today time.Time) bool {
	fields := strings.Fields(cell)
	if len(fields) == 0 {
		return false
	}
	datePart := fields[0]
	if datePart == today.Format(DateLayout) {
		return true
	}
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, datePart)
		if err != nil {
			continue
		}
		y1, m1, d1 := parsed.Date()
		y2, m2, d2 := today.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	}
	return false
}

// ContainsAny reports whether text contains one of the phrases.
func ContainsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// FormatDelta renders a price delta with an explicit sign for logs.
func FormatDelta(delta int) string {
	return fmt.Sprintf("%+d", delta)
}
