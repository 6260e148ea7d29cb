package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/book-repricer/scraper"
)

// ErrSheetWrite reports a failed catalog row update.
type ErrSheetWrite struct {
	Row int
	Err error
}

func (e ErrSheetWrite) Error() string {
	return fmt.Sprintf("catalog write failed for row %d: %v", e.Row, e.Err)
}

func (e ErrSheetWrite) Unwrap() error {
	return e.Err
}

// ErrHistoryWrite reports a failed ledger append.
type ErrHistoryWrite struct {
	ISBN string
	Err  error
}

func (e ErrHistoryWrite) Error() string {
	return fmt.Sprintf("history write failed for %s: %v", e.ISBN, e.Err)
}

func (e ErrHistoryWrite) Unwrap() error {
	return e.Err
}

// ErrInvalidQuote reports a fetched quote that cannot be written back.
type ErrInvalidQuote struct {
	ISBN string
	Err  error
}

func (e ErrInvalidQuote) Error() string {
	return fmt.Sprintf("invalid quote for %s: %v", e.ISBN, e.Err)
}

func (e ErrInvalidQuote) Unwrap() error {
	return e.Err
}

// ErrItemPanic is a recovered panic from one item.
type ErrItemPanic struct {
	Value interface{}
}

func (e ErrItemPanic) Error() string {
	return fmt.Sprintf("panic while processing item: %v", e.Value)
}

func errorTypeLabel(err error) string {
	var sheetErr ErrSheetWrite
	if errors.As(err, &sheetErr) {
		return "sheet_write"
	}
	var historyErr ErrHistoryWrite
	if errors.As(err, &historyErr) {
		return "history_write"
	}
	var quoteErr ErrInvalidQuote
	if errors.As(err, &quoteErr) {
		return "invalid_quote"
	}
	var panicErr ErrItemPanic
	if errors.As(err, &panicErr) {
		return "panic"
	}
	return scraper.ErrorLabel(err)
}
