package services

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when ingestion presents an unknown API key
var ErrUnauthorized = errors.New("unauthorized")

// ErrJournalDisabled is returned by alert history queries when no journal is configured
var ErrJournalDisabled = errors.New("alert journal is not enabled")

// ValidationError reports a malformed request. Nothing is mutated when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// TickError is the typed failure of one scheduler tick
type TickError struct {
	Stage string // snapshot, lease or commit
	Err   error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("tick failed during %s: %v", e.Stage, e.Err)
}

func (e *TickError) Unwrap() error {
	return e.Err
}
