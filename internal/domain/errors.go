package domain

import (
	"errors"
	"time"
)

// Sentinel errors for domain-level failures - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// ConflictError is returned when an optimistic-concurrency save is rejected
// because the document changed after the client's base timestamp. It carries
// the server's current state so the client can offer an explicit merge choice
// instead of guessing.
type ConflictError struct {
	Message   string
	DocID     string
	Content   string    // server's current content
	UpdatedAt time.Time // server's current timestamp
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}
