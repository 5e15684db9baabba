package his

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the search returned no row whose folder number is an
	// exact match for the query.
	ErrNotFound = errors.New("patient not found")

	// ErrAuthRequired means a request came back as unauthenticated after the
	// one allowed session refresh.
	ErrAuthRequired = errors.New("authentication required")

	// ErrEmptyToken means the report endpoint issued a blank token. Redemption
	// must not be attempted.
	ErrEmptyToken = errors.New("empty report token")
)

// AmbiguousMatchError is reported when more than one distinct internal id
// carries the exact same folder number. That is a data-integrity anomaly on
// the hospital side; picking one would silently bind the wrong record.
type AmbiguousMatchError struct {
	FolderNumber string
	InternalIDs  []int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for %s: internal ids %v", e.FolderNumber, e.InternalIDs)
}

// RetryableError wraps a transient transport failure (timeout, connection
// reset, 5xx) so the orchestrator can distinguish it from a definitive
// per-patient outcome.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// retryable classifies a transport-level error, keeping context cancellation
// out of the retry path so shutdown is not mistaken for remote flakiness.
func retryable(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &RetryableError{Op: op, Err: err}
}
