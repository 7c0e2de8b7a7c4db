package repository

import "errors"

// Sentinel errors for repository operations.
var (
	// ErrNotFound is returned when a conversation, message, or step does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned when a request fails validation.
	ErrInvalidInput = errors.New("invalid input")
)
