package attendance

import (
	"errors"
	"fmt"
)

// Failure taxonomy surfaced to callers. Everything except ErrStoreUnavailable
// is terminal for the request and user-meaningful as-is.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionNotActive = errors.New("session not active")
	ErrNotEnrolled      = errors.New("student not enrolled in course")
	ErrForbidden        = errors.New("forbidden")
	ErrStudentNotFound  = errors.New("student not found")
	ErrCourseNotFound   = errors.New("course not found")
	ErrInvalidStatus    = errors.New("invalid attendance status")
	ErrInvalidDuration  = errors.New("duration must be between 1 and 480 minutes")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// storeErr wraps a persistence failure so callers can match the transient
// class with errors.Is while keeping the cause in the message.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
