package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// SchemaError reports a structured response that failed schema validation.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("response failed schema validation: %s", e.Detail)
}

// TransientError marks a failure worth retrying: timeouts, broken pipes,
// backend overload. Wraps the underlying cause.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient driver error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retriable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried. Deadline expiry is
// transient (the phase retry policy owns the budget); explicit cancellation
// is not.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
