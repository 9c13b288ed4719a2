package service

import (
	"fmt"

	registrystore "github.com/chirino/chat-archive/internal/registry/store"
)

// PartialUploadError reports an upload whose conversation was created but
// whose messages were not all stored. Messages written before the failure
// remain.
type PartialUploadError struct {
	Collection string
	Inserted   int
	Total      int
	Err        error
}

func (e *PartialUploadError) Error() string {
	return fmt.Sprintf("upload to %s stored %d of %d messages: %v", e.Collection, e.Inserted, e.Total, e.Err)
}

func (e *PartialUploadError) Unwrap() error { return e.Err }

func validation(field, format string, args ...any) error {
	return &registrystore.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
