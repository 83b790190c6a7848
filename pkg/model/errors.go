package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrValidation is returned when input is empty or malformed
	ErrValidation = goerr.New("validation error")
	// ErrTransientProvider is returned when the embedding provider fails
	ErrTransientProvider = goerr.New("embedding provider failure")
	// ErrCircuitOpen is returned without any I/O while the breaker is open
	ErrCircuitOpen = goerr.New("circuit breaker is open")
	// ErrBackpressure is returned when the embedding queue is at capacity
	ErrBackpressure = goerr.New("embedding queue is full")
	ErrStorage      = goerr.New("storage error")
	ErrNotFound     = goerr.New("not found")

	ErrNotInitialized = goerr.New("store is not initialized")
)

// IsRetryable reports whether the caller may retry the same request later
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackpressure) || errors.Is(err, ErrCircuitOpen)
}
