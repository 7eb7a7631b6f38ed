package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/melibackend/offline-inventory/internal/models"
)

var (
	// ErrRemoteUnavailable covers every failure worth retrying later:
	// network errors, 5xx, 408, 429 and an open circuit breaker.
	ErrRemoteUnavailable = errors.New("remote backend unavailable")

	// ErrNotFound is returned by reads for an unknown item id
	ErrNotFound = errors.New("remote item not found")
)

// RejectedError is a definitive refusal by the backend. Retrying the same
// request will not succeed.
type RejectedError struct {
	StatusCode int
	Response   models.ErrorResponse
}

func (e *RejectedError) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("remote rejected request (%d %s): %s", e.StatusCode, e.Response.Code, e.Response.Message)
	}
	return fmt.Sprintf("remote rejected request with status %d", e.StatusCode)
}

// IsRejected reports whether err is, or wraps, a *RejectedError
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// retryableStatus reports whether a status code means "try again later"
func retryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
