package model

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the subsystem's failure taxonomy. Callers match
// with errors.Is; wrapped messages carry the operation context.
var (
	// ErrCapacityExhausted means a tier is full and no eviction candidate
	// was available. Local and recoverable; the caller may retry later.
	ErrCapacityExhausted = errors.New("capacity exhausted")

	// ErrPersistence means a durable write or read failed. In-memory state
	// is rolled back to the last known-durable state before this surfaces.
	ErrPersistence = errors.New("persistence failure")

	// ErrLockTimeout means lock contention exceeded the configured bound.
	// Retryable.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrSnapshotVersion means an import was rejected wholesale for a
	// schema version mismatch. Fatal to the import call only.
	ErrSnapshotVersion = errors.New("snapshot version mismatch")

	// ErrNotFound means no item with the given id exists in any tier.
	ErrNotFound = errors.New("memory not found")
)

// ValidationError describes a malformed or out-of-range ingress record,
// rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ItemError records a single-item failure during a consolidation pass.
// The pass continues past these rather than aborting.
type ItemError struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
	Err   string `json:"error"`
}
