package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to these so callers can use errors.Is.
var (
	ErrMissingField        = errors.New("missing field")
	ErrUnknownCategory     = errors.New("unknown merchant category")
	ErrInvalidWeightConfig = errors.New("invalid weight config")
	ErrAdapterUnavailable  = errors.New("classifier unavailable")
	ErrTransient           = errors.New("transient failure")
	ErrNotFound            = errors.New("not found")
)

// MissingFieldError reports an absent or malformed transaction field.
type MissingFieldError struct {
	Field  string
	Reason string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// UnknownCategoryError is returned when the category table has no entry and
// the scorer is configured to reject unknown categories.
type UnknownCategoryError struct {
	Category string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown merchant category %q", e.Category)
}

func (e *UnknownCategoryError) Unwrap() error { return ErrUnknownCategory }

// InvalidWeightConfigError is fatal at startup.
type InvalidWeightConfigError struct {
	Reason string
	Sum    float64
}

func (e *InvalidWeightConfigError) Error() string {
	if e.Sum != 0 {
		return fmt.Sprintf("invalid weight config: %s (sum=%.6f)", e.Reason, e.Sum)
	}
	return "invalid weight config: " + e.Reason
}

func (e *InvalidWeightConfigError) Unwrap() error { return ErrInvalidWeightConfig }

// AdapterUnavailableError wraps the cause of a classifier failure.
type AdapterUnavailableError struct {
	Adapter string
	Err     error
}

func (e *AdapterUnavailableError) Error() string {
	if e.Err == nil {
		return e.Adapter + ": classifier unavailable"
	}
	return fmt.Sprintf("%s: classifier unavailable: %v", e.Adapter, e.Err)
}

func (e *AdapterUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAdapterUnavailable}
	}
	return []error{ErrAdapterUnavailable, e.Err}
}
