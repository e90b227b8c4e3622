package utils

import (
	"errors"
	"fmt"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

// Sentinels for errors.Is; every typed error below matches exactly one.
var (
	ErrValidation         = errors.New("validation error")
	ErrStateConflict      = errors.New("state conflict")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrDuplicatePosting   = errors.New("duplicate posting")
)

// ValidationError rejects input before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StateConflictError names the lifecycle state an operation needed and the one it found.
type StateConflictError struct {
	Entity    string
	Id        int
	Operation string
	Expected  []string
	Actual    string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict: cannot %s %s %d: expected %s, actual %s",
		e.Operation, e.Entity, e.Id, strings.Join(e.Expected, "|"), e.Actual)
}

func (e *StateConflictError) Is(target error) bool { return target == ErrStateConflict }

func NewStateConflictError(entity string, id int, operation string, actual string, expected ...string) error {
	return &StateConflictError{Entity: entity, Id: id, Operation: operation, Expected: expected, Actual: actual}
}

type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrorRecordNotFound }

func NewNotFoundError(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// InvariantViolation is a defect signal. It is never auto-corrected.
type InvariantViolation struct {
	Check  string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s: %s", e.Check, e.Detail)
}

func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariantViolation }

func NewInvariantViolation(check string, format string, args ...any) error {
	return &InvariantViolation{Check: check, Detail: fmt.Sprintf(format, args...)}
}

// DuplicatePostingError is raised by the store when a transaction reference already has an entry.
// The posting engine absorbs it and returns the existing entry.
type DuplicatePostingError struct {
	TransactionRef  string
	ExistingEntryId int
}

func (e *DuplicatePostingError) Error() string {
	if e.ExistingEntryId > 0 {
		return fmt.Sprintf("duplicate posting for transaction %s (entry %d)", e.TransactionRef, e.ExistingEntryId)
	}
	return fmt.Sprintf("duplicate posting for transaction %s", e.TransactionRef)
}

func (e *DuplicatePostingError) Is(target error) bool { return target == ErrDuplicatePosting }

// IsBusinessRejection reports whether err is a rule rejection rather than an infrastructure failure.
func IsBusinessRejection(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrorRecordNotFound) ||
		errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrDuplicatePosting)
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
