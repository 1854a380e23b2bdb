package retry

import (
	"fmt"
	"net/http"
)

const (
	MessageRetriesExhausted = "Max retry attempts reached"
	MessageNoInstances      = "No instances available"
	MessageRejected         = "Request rejected by downstream service"
)

// ServiceError is a terminal routing failure. Message and StatusCode are
// safe to show to callers; Err is the internal cause and is only logged.
type ServiceError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func errRetriesExhausted(cause error) *ServiceError {
	return &ServiceError{
		Message:    MessageRetriesExhausted,
		StatusCode: http.StatusServiceUnavailable,
		Err:        cause,
	}
}

func errNoInstances(cause error) *ServiceError {
	return &ServiceError{
		Message:    MessageNoInstances,
		StatusCode: http.StatusServiceUnavailable,
		Err:        cause,
	}
}

// errRejected keeps 4xx statuses; anything else (a redirect, a missing
// status) becomes 502 since the caller cannot act on it.
func errRejected(status int, cause error) *ServiceError {
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	return &ServiceError{
		Message:    MessageRejected,
		StatusCode: status,
		Err:        cause,
	}
}
