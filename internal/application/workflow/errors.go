package workflow

import "errors"

var (
	// ErrWorkflowNotFound is returned when the referenced workflow id is unknown
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrIllegalTransition is returned when an action is not valid for the current stage and status
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrPersistence is returned when the durable store could not be written or read
	ErrPersistence = errors.New("persistence failure")

	// ErrVersionConflict is returned when concurrent writers kept winning the race
	ErrVersionConflict = errors.New("workflow version conflict")

	// ErrExtractionFailure is returned when the intent classifier failed
	ErrExtractionFailure = errors.New("extraction failure")

	// ErrRenderFailure is returned when artifact generation failed after a persisted transition
	ErrRenderFailure = errors.New("render failure")

	// ErrNotificationFailure is returned when a message could not be delivered after a persisted transition
	ErrNotificationFailure = errors.New("notification failure")

	// ErrRecordNotFound is returned when no finalized record carries the reference
	ErrRecordNotFound = errors.New("finalized record not found")

	// ErrThreadNotActive is returned when an edit targets a thread that is not open for editing
	ErrThreadNotActive = errors.New("thread is not active for editing")

	// ErrInvalidInput is returned for malformed creation requests
	ErrInvalidInput = errors.New("invalid input")
)

// IsSideEffectError reports whether err only concerns side effects of an
// already persisted state change
func IsSideEffectError(err error) bool {
	return errors.Is(err, ErrRenderFailure) || errors.Is(err, ErrNotificationFailure)
}
