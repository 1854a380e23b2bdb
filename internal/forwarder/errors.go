package forwarder

import (
	"fmt"
	"net/http"
)

type Kind int

const (
	KindConnectionFailure Kind = iota + 1
	KindResponseError
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailure:
		return "connection_failure"
	case KindResponseError:
		return "response_error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified failure of a single forwarding attempt.
type Error struct {
	Kind Kind
	// StatusCode is set for KindResponseError only.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindResponseError {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed. Connection
// failures, timeouts, 5xx, 408 and 429 are retryable; other statuses are not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnectionFailure, KindTimeout:
		return true
	case KindResponseError:
		return e.StatusCode >= http.StatusInternalServerError ||
			e.StatusCode == http.StatusRequestTimeout ||
			e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
