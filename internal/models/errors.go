package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrStreamRequired indicates an event without a stream name.
	ErrStreamRequired = errors.New("stream is required")

	// ErrEndBeforeStart indicates an event that ends before it starts.
	ErrEndBeforeStart = errors.New("event ends before it starts")
)
