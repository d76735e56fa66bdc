package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotFound means the referenced object no longer exists.
	ErrNotFound = errors.New("remote: object not found")

	// ErrPermissionDenied means access to the object is now denied.
	ErrPermissionDenied = errors.New("remote: permission denied")

	// ErrTokenConflict means a mutating call carried a stale change token:
	// the object was modified remotely between read and write.
	ErrTokenConflict = errors.New("remote: change token conflict")
)

// StatusError is a non-2xx response that maps to none of the sentinel
// errors above.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: unexpected status %d: %s", e.Status, e.Body)
}

// IsTransient reports whether the error looks like a transient transport
// fault worth retrying: timeouts, connection resets, 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrTokenConflict) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 || statusErr.Status == 429
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Anything else coming out of the transport is treated as retryable.
	return true
}

func errorFromStatus(status int, body string) error {
	switch status {
	case 404, 410:
		return ErrNotFound
	case 401, 403:
		return ErrPermissionDenied
	case 409, 412:
		return ErrTokenConflict
	default:
		return &StatusError{Status: status, Body: body}
	}
}
