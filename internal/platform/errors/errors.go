package apperrors

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoPorts is the configuration error raised before a session can start.
	ErrNoPorts       = errors.New("no serial ports available")
	ErrNoSession     = errors.New("no session")
	ErrSessionActive = errors.New("a session is already running")
	// ErrDevice matches any failure of the sensor channel.
	ErrDevice = errors.New("device failure")
)
