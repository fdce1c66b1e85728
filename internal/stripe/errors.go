package stripe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/stripe/stripe-go/v82"
)

// APIError is a Stripe failure in the shape handlers need: the status and
// message to pass back to the caller, and whether trying again could help.
type APIError struct {
	Op        string
	Status    int
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: %s: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a timeout or a transient Stripe failure.
// A retryable error says nothing about whether the request took effect.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// classify converts an SDK error into an *APIError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *stripe.Error
	if errors.As(err, &se) {
		status := se.HTTPStatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		return &APIError{
			Op:        op,
			Status:    status,
			Code:      string(se.Code),
			Message:   se.Msg,
			Retryable: status >= 500 || status == http.StatusTooManyRequests || se.Type == stripe.ErrorTypeAPI,
			Err:       err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &APIError{
			Op:        op,
			Status:    http.StatusServiceUnavailable,
			Message:   "payment processor timed out",
			Retryable: true,
			Err:       err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &APIError{
			Op:        op,
			Status:    http.StatusServiceUnavailable,
			Message:   "payment processor unreachable",
			Retryable: true,
			Err:       err,
		}
	}

	return &APIError{
		Op:      op,
		Status:  http.StatusBadGateway,
		Message: err.Error(),
		Err:     err,
	}
}
