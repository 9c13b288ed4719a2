package store

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the conversation (or another resource) does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NameCollision builds the conflict returned when a conversation name is taken.
func NameCollision(name string) *ConflictError {
	return &ConflictError{
		Message: fmt.Sprintf("conversation already exists: %s", name),
		Code:    "name_collision",
		Details: map[string]interface{}{"collectionName": name},
	}
}

// UnavailableError indicates the datastore could not be reached or did not
// answer in time.
type UnavailableError struct {
	Timeout bool
	Err     error
}

func (e *UnavailableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("store timeout: %v", e.Err)
	}
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// OpError records which store operation failed and on which conversation.
type OpError struct {
	Op         string
	Collection string
	Err        error
}

func (e *OpError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsNotFound reports whether err (or anything it wraps) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err (or anything it wraps) is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ConversationNotFound is the error every store returns for a missing conversation.
func ConversationNotFound(name string) error {
	return &NotFoundError{Resource: "conversation", ID: name}
}
