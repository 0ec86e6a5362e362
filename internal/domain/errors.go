package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidQuiz indicates a malformed definition (empty question list,
	// out-of-range correct answer, negative points). Raised at load time.
	ErrInvalidQuiz = errors.New("invalid quiz definition")
	// ErrAttemptNotFound is returned when an attempt id is unknown.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrPermissionDenied is returned when the taker denies the geolocation
	// permission required for a geofenced attempt.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrLocationOutOfBounds is returned when the initial location check
	// places the taker outside the allowed radius.
	ErrLocationOutOfBounds = errors.New("location outside allowed area")
	// ErrOutOfRange is returned for a question index outside [0, questionCount).
	ErrOutOfRange = errors.New("question index out of range")
	// ErrOperationNotAllowed is returned for operations the attempt policy
	// forbids, such as skipping when skipQuestions is disabled.
	ErrOperationNotAllowed = errors.New("operation not allowed by quiz policy")
	// ErrAttemptNotActive is returned for attempt-mutating calls made outside
	// the active state.
	ErrAttemptNotActive = errors.New("attempt is not active")
	// ErrAssignmentClosed is returned when an assignment attempt begins
	// after the policy's due date.
	ErrAssignmentClosed = errors.New("assignment past its due date")
	// ErrAttemptsExhausted is returned when the assignment's max attempt
	// count has been reached.
	ErrAttemptsExhausted = errors.New("maximum attempts reached")
)

// OutOfBoundsError carries the measured distance and required radius so the
// refusal names the specific boundary instead of a generic failure.
type OutOfBoundsError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("location outside allowed area: %.0fm away, must be within %.0fm", e.DistanceMeters, e.RadiusMeters)
}

func (e *OutOfBoundsError) Unwrap() error { return ErrLocationOutOfBounds }

