package service

import "errors"

// Collaborator failures. Upstream clients translate transport and status
// errors into these so the controller can classify them with errors.Is.
var (
	ErrSessionNotFound = errors.New("group test not found")
	ErrTransient       = errors.New("transient upstream failure")
	ErrRejected        = errors.New("submission rejected by upstream")
)

// Control errors returned to the presentation layer.
var (
	ErrInvalidPhase       = errors.New("operation not allowed in current phase")
	ErrTimeUp             = errors.New("group test time is up")
	ErrUnknownQuestion    = errors.New("unknown question")
	ErrInvalidAnswer      = errors.New("invalid answer for question")
	ErrSubmissionInFlight = errors.New("submission already in flight or completed")
	ErrNothingToRetry     = errors.New("nothing to retry")
	ErrPersistence        = errors.New("state store unavailable")
	ErrControllerClosed   = errors.New("group test controller closed")
	ErrNotOpen            = errors.New("group test is not open")
)
