package database

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ErrPipelineBusy is returned when another run holds the pipeline lock.
// It lives here so both the orchestrator and the API layer can match it
// without importing each other.
var ErrPipelineBusy = errors.New("pipeline run already in progress")

// DBError represents a database operation error with context
type DBError struct {
	Operation string
	Err       error
}

// Error implements the error interface
func (e *DBError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DBError) Unwrap() error {
	return e.Err
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       interface{}
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s not found: %v", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// AlreadyExistsError signals a create-if-absent insert that hit an
// existing row. Callers use it for idempotency (capture replays),
// replay protection (nonces), and lock contention.
type AlreadyExistsError struct {
	Resource string
	ID       interface{}
}

// Error implements the error interface
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %v", e.Resource, e.ID)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field  string
	Reason string
	Value  interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for field '%s': %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Reason)
}

// WrapDBError wraps a database error with operation context
func WrapDBError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{
		Operation: operation,
		Err:       err,
	}
}

// NewNotFoundErrorWithID creates a new NotFoundError with an ID
func NewNotFoundErrorWithID(resource string, id interface{}) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, reason string) error {
	return &ValidationError{
		Field:  field,
		Reason: reason,
	}
}

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) || errors.Is(err, gorm.ErrRecordNotFound)
}

// uniqueViolationCode is the PostgreSQL error code for unique_violation.
const uniqueViolationCode = "23505"

// IsAlreadyExists reports whether err is a duplicate-key condition.
// It recognizes the typed AlreadyExistsError, GORM's translated
// duplicate-key error, and the raw pq driver code for Exec paths that
// bypass GORM's error translation.
func IsAlreadyExists(err error) bool {
	var ae *AlreadyExistsError
	if errors.As(err, &ae) {
		return true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode
}
