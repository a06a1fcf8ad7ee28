package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrKindValidation       ErrorKind = "VALIDATION"
	ErrKindTransientStore   ErrorKind = "TRANSIENT_STORE"
	ErrKindEndpointNotFound ErrorKind = "ENDPOINT_NOT_FOUND"
	ErrKindConfiguration    ErrorKind = "CONFIGURATION"
)

// ValidationError means the caller's data is wrong. It is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// TransientStoreError wraps connectivity, throttling, and timeout failures
// from the graph store. The importer retries these up to its bound.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// EndpointNotFoundError means an edge referenced a vertex absent from both
// the batch being imported and the store. Fatal to the import call.
type EndpointNotFoundError struct {
	Label    EdgeLabel
	Missing  int
	BatchLen int
}

func (e *EndpointNotFoundError) Error() string {
	return fmt.Sprintf("%d of %d %s edges reference missing endpoints", e.Missing, e.BatchLen, e.Label)
}

// ConfigurationError means the classification mapping or a threshold is
// invalid. Surfaced before any store call is made.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Msg)
}

func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

// KindOf maps an error to its taxonomy kind for reporting in ImportResult.
func KindOf(err error) ErrorKind {
	var (
		validation *ValidationError
		transient  *TransientStoreError
		endpoint   *EndpointNotFoundError
		configErr  *ConfigurationError
	)
	switch {
	case errors.As(err, &validation):
		return ErrKindValidation
	case errors.As(err, &transient):
		return ErrKindTransientStore
	case errors.As(err, &endpoint):
		return ErrKindEndpointNotFound
	case errors.As(err, &configErr):
		return ErrKindConfiguration
	default:
		return ""
	}
}
