package apperror

import "errors"

var (
	ErrOutOfBounds           = errors.New("coordinates out of bounds")
	ErrInvalidColor          = errors.New("invalid color index")
	ErrInvalidSize           = errors.New("invalid grid size")
	ErrMalformedMessage      = errors.New("malformed message")
	ErrTimeout               = errors.New("request timed out")
	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrStopped               = errors.New("mutation service stopped")
)
