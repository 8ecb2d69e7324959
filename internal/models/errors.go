package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the compliance services wraps exactly one
// of these so callers can branch with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrCryptographic = errors.New("cryptographic failure")
	ErrStorage       = errors.New("storage failure")
)

// Error codes for programmatic handling
const (
	CodeInvalidInput           = "INVALID_INPUT"
	CodeOverrideReasonRequired = "OVERRIDE_REASON_REQUIRED"
	CodeWeakKey                = "WEAK_ENCRYPTION_KEY"
	CodeInvalidKey             = "INVALID_ENCRYPTION_KEY"
	CodeInvalidPolicy          = "INVALID_RETENTION_POLICY"
	CodeUnregisteredEntity     = "UNREGISTERED_ENTITY_TYPE"
	CodeAuditEntryNotFound     = "AUDIT_ENTRY_NOT_FOUND"
	CodeRequestNotFound        = "DELETION_REQUEST_NOT_FOUND"
	CodeBatchNotFound          = "ARCHIVE_BATCH_NOT_FOUND"
	CodeJobNotFound            = "ARCHIVE_JOB_NOT_FOUND"
	CodeAlreadyProcessed       = "ALREADY_PROCESSED"
	CodeNotCancellable         = "NOT_CANCELLABLE"
	CodeRequestLocked          = "REQUEST_LOCKED"
	CodeDecryptionFailed       = "DECRYPTION_FAILED"
	CodeKeyVersionUnavailable  = "KEY_VERSION_UNAVAILABLE"
	CodeArchiveStorage         = "ARCHIVE_STORAGE_FAILED"
)

// Error is a classified failure carrying a stable code.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *Error {
	return &Error{Kind: ErrValidation, Code: code, Message: message}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(code, message string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

// NewConflictError creates a conflict error
func NewConflictError(code, message string) *Error {
	return &Error{Kind: ErrConflict, Code: code, Message: message}
}

// NewCryptographicError wraps a cryptographic failure
func NewCryptographicError(code, message string, err error) *Error {
	return &Error{Kind: ErrCryptographic, Code: code, Message: message, Err: err}
}

// NewStorageError wraps an archive storage failure
func NewStorageError(message string, err error) *Error {
	return &Error{Kind: ErrStorage, Code: CodeArchiveStorage, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
