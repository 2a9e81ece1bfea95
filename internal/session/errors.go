package session

import "errors"

var (
	ErrInvalidInstanceID = errors.New("instanceId is required")
	ErrNotConnected      = errors.New("instance not connected")
	ErrNotFound          = errors.New("instance not found")
	ErrAlreadyRegistered = errors.New("instance already registered")
	// ErrStopped is returned by Start when the instance was torn down
	// before its socket finished opening.
	ErrStopped = errors.New("instance stopped while starting")
)
