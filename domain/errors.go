package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable is matched by every failure of an external
	// collaborator that aborts a turn
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrTurnInProgress is returned when a session already has a turn in flight
	ErrTurnInProgress = errors.New("turn already in progress for session")
	// ErrRoleNotFound is returned when a role id does not resolve
	ErrRoleNotFound = errors.New("role not found")
	// ErrSessionNotFound is returned when a session id does not resolve
	ErrSessionNotFound = errors.New("session not found")
)

// UpstreamError wraps a collaborator failure with the service that failed
type UpstreamError struct {
	Service string
	Err     error
}

// NewUpstreamError wraps err as a failure of service
func NewUpstreamError(service string, err error) *UpstreamError {
	return &UpstreamError{Service: service, Err: err}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is reports the sentinel so callers can match any upstream failure
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}
