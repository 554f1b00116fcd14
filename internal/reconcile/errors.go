package reconcile

import (
	"errors"
	"fmt"

	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/history"
)

// ErrorCode categorizes reconciliation errors.
type ErrorCode string

const (
	// ErrCodeNotFound: a document or page vanished.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeUnparseable: a timestamp or ledger row is malformed.
	ErrCodeUnparseable ErrorCode = "UNPARSEABLE"

	// ErrCodeDenied: an exclusion directive forbids the edit.
	ErrCodeDenied ErrorCode = "DENIED"

	// ErrCodeTransientIO: a fetch or write failed; the next run retries.
	ErrCodeTransientIO ErrorCode = "TRANSIENT_IO"

	// ErrCodeRunLevel: the live set or the ledger could not be read.
	ErrCodeRunLevel ErrorCode = "RUN_LEVEL"
)

// Error is a classified reconciliation error.
type Error struct {
	Code     ErrorCode
	Op       string
	Document string
	Err      error
}

func (e *Error) Error() string {
	if e.Document != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Op, e.Document, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps an error from the corpus or the scanner to a code.
func Classify(err error) ErrorCode {
	var re *Error
	switch {
	case errors.As(err, &re):
		return re.Code
	case corpus.IsNotFound(err):
		return ErrCodeNotFound
	case history.IsTimestampError(err):
		return ErrCodeUnparseable
	case corpus.IsEditConflict(err):
		// Someone else edited first; the next run starts from their text.
		return ErrCodeTransientIO
	default:
		return ErrCodeTransientIO
	}
}

// IsRunLevel reports whether err aborted a whole run.
func IsRunLevel(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == ErrCodeRunLevel
	}
	return false
}

func newDocumentError(op, document string, err error) *Error {
	return &Error{Code: Classify(err), Op: op, Document: document, Err: err}
}

func newRunError(op string, err error) *Error {
	return &Error{Code: ErrCodeRunLevel, Op: op, Err: err}
}
