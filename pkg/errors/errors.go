package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrBookNotFound    = errors.New("book not found")
	ErrNoText          = errors.New("no text available")
	ErrTooShort        = errors.New("text below minimum word count")
	ErrInvalidRecord   = errors.New("invalid catalog record")
	ErrFeedUnavailable = errors.New("catalog feed unavailable")
	ErrInvalidInput    = errors.New("invalid input")
	ErrTimeout         = errors.New("operation timed out")
)

// AppError attaches a message and, when known, the catalog ID of the book
// being processed to a sentinel error.
type AppError struct {
	Err     error
	Message string
	BookID  int64
}

func (e *AppError) Error() string {
	if e.BookID != 0 {
		return fmt.Sprintf("book %d: %s: %s", e.BookID, e.Err.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, bookID int64, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
		BookID:  bookID,
	}
}

func Newf(sentinel error, bookID int64, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		BookID:  bookID,
	}
}

// Kind maps err to a stable label used for metric labels and report
// counters.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoText):
		return "no_text"
	case errors.Is(err, ErrTooShort):
		return "too_short"
	case errors.Is(err, ErrInvalidRecord), errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrBookNotFound):
		return "not_found"
	case errors.Is(err, ErrFeedUnavailable):
		return "feed_unavailable"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
