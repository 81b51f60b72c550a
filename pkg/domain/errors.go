package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Conflict reasons surfaced to callers verbatim.
const (
	ReasonRoomOccupied           = "room occupied"
	ReasonAlreadyCheckedOut      = "already checked out"
	ReasonDepartureBeforeArrival = "departure precedes arrival"
	ReasonMultipleActiveTenants  = "room has more than one active tenant"
	ReasonDuplicateID            = "duplicate id"
)

// ValidationError reports malformed or missing caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ConflictError reports a business-rule violation such as an occupied room.
type ConflictError struct {
	Entity EntityType
	ID     int64
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
}

// StorageError wraps a failure of the persistence medium.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, v.Message)
		}
	}
	if len(msgs) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}

// IsRetryable reports whether the caller may retry the failed operation.
// Only storage failures qualify.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ErrorKind maps an error to a stable label for logs and metrics.
func ErrorKind(err error) string {
	var (
		ve  *ValidationError
		nfe *NotFoundError
		ce  *ConflictError
		se  *StorageError
		rve RuleViolationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &nfe):
		return "not_found"
	case errors.As(err, &ce):
		return "conflict"
	case errors.As(err, &se):
		return "storage"
	case errors.As(err, &rve):
		return "rule_violation"
	default:
		return "internal"
	}
}
