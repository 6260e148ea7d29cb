package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTimeout indicates a bounded wait ran out while driving the estimate page.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrSession indicates the session could not drive the query form:
// navigation failed, the input never appeared or the page could not be read.
type ErrSession struct {
	Err error
}

func (e ErrSession) Error() string {
	return fmt.Errorf("session: %w", e.Err).Error()
}

func (e ErrSession) Unwrap() error {
	return e.Err
}

// ErrorLabel maps a fetch error to a short metrics label.
func ErrorLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var sessionErr ErrSession
	if errors.As(err, &sessionErr) {
		return "session"
	}
	return "other"
}

// classifyError wraps raw session errors into ErrTimeout or ErrSession.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return err
	}
	var sessionErr ErrSession
	if errors.As(err, &sessionErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	return ErrSession{Err: err}
}
