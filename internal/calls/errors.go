package calls

import "errors"

var (
	ErrNotFound        = errors.New("calls: session not found")
	ErrForbidden       = errors.New("calls: user is not allowed to perform this action")
	ErrInvalidState    = errors.New("calls: action not allowed in current status")
	ErrAlreadyInCall   = errors.New("calls: user already in a call")
	ErrInvalidArgument = errors.New("calls: invalid argument")

	// ErrPersistence wraps recorder failures. It is logged, never returned
	// from a transition: the in-memory state stands regardless.
	ErrPersistence = errors.New("calls: persistence failure")
)
