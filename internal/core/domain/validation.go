package domain

import (
	"fmt"
	"strings"
)

// FieldError describes a single input validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationErrors is the first-class result type for malformed input.
// It is returned instead of a caught generic error so handlers can render
// the itemized list in the response envelope.
type ValidationErrors []FieldError

// Error implements error.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Path, fe.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Append records a violation.
func (v *ValidationErrors) Append(path, message string) {
	*v = append(*v, FieldError{Path: path, Message: message})
}

// OrNil returns nil when no violations were collected, so callers can use
// the idiomatic `if err := v.OrNil(); err != nil` pattern.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
