// Package deployerr classifies failures of deployment steps into transient
// ones, that can succeed when the step is repeated, and permanent ones.
package deployerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// TransientError is returned by an operation that failed because of a
// temporary condition, like an unreachable git remote.
type TransientError struct {
	// Op describes the operation that failed, e.g. "git pull".
	Op  string
	Err error
	// RetryAfter is the earliest time the operation should be repeated,
	// zero means immediately.
	RetryAfter time.Time
}

// Transient wraps err into a TransientError that can be retried at any time.
func Transient(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// TransientAfter wraps err into a TransientError that should not be retried
// before retryAfter.
func TransientAfter(op string, err error, retryAfter time.Time) *TransientError {
	return &TransientError{Op: op, Err: err, RetryAfter: retryAfter}
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Error() string {
	if e.RetryAfter.IsZero() {
		return fmt.Sprintf("%s failed temporarily: %s", e.Op, e.Err)
	}

	return fmt.Sprintf("%s failed temporarily, retry after %s: %s",
		e.Op, e.RetryAfter.Format(time.RFC3339), e.Err)
}

// IsTransient returns true if err wraps a TransientError.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// Classify prefixes err with op and wraps it into a TransientError when it
// was caused by a network failure.
// Errors caused by the cancellation or expiration of a context are never
// transient, the step ran out of time and repeating it can not help.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if IsTransient(err) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	if isNetworkFailure(err) {
		return Transient(op, err)
	}

	return fmt.Errorf("%s failed: %w", op, err)
}

func isNetworkFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
