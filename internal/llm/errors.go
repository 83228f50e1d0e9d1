package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrTransient marks a provider error as safe to retry: a network
// timeout, context deadline, or a 429/5xx response from the upstream
// API, as opposed to a caller mistake (bad request, auth failure) that
// retrying won't fix.
var ErrTransient = errors.New("llm: transient provider error")

// wrapTransient annotates err with ErrTransient when it looks retryable,
// so callers can dispatch with errors.Is instead of matching provider-
// specific error strings.
func wrapTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return &transientError{op: op, cause: err}
	}
	return err
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, code := range []string{"429", "500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

type transientError struct {
	op    string
	cause error
}

func (e *transientError) Error() string { return "llm: " + e.op + ": " + e.cause.Error() }
func (e *transientError) Unwrap() error { return ErrTransient }
