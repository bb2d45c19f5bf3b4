// Package errors defines the structured error types used across the LCT core.
// Caller misuse surfaces as an LCTError; policy and verification failures never do.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/turtacn/lct/pkg/constants"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// LCTError represents a structured error with additional metadata
type LCTError interface {
	error

	// Code returns the machine-readable error code
	Code() constants.ErrorCode

	// Description returns a human-readable description of the error class
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) LCTError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) LCTError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

type baseError struct {
	code        constants.ErrorCode
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

func (e *baseError) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.description
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *baseError) Code() constants.ErrorCode {
	return e.code
}

func (e *baseError) Description() string {
	return e.description
}

func (e *baseError) Unwrap() error {
	return e.cause
}

// Is matches any LCTError carrying the same code, so errors.Is works against
// the predefined constructors.
func (e *baseError) Is(target error) bool {
	t, ok := target.(LCTError)
	if !ok {
		return false
	}
	return t.Code() == e.code
}

func (e *baseError) WithCause(cause error) LCTError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) LCTError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// ================================================================================
// Error Constructor
// ================================================================================

// NewError creates a new LCTError with the specified parameters
func NewError(code constants.ErrorCode, description string, message string) LCTError {
	return &baseError{
		code:        code,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrInvalidArgument creates an invalid_argument error
func ErrInvalidArgument(message string) LCTError {
	return NewError(
		constants.ErrCodeInvalidArgument,
		"The caller supplied an argument that is missing, out of range, or malformed.",
		message,
	)
}

// ErrEntityNotFound creates an entity_not_found error
func ErrEntityNotFound(entityID string) LCTError {
	return NewError(
		constants.ErrCodeEntityNotFound,
		"The referenced entity is unknown to this service.",
		fmt.Sprintf("entity not found: %s", entityID),
	).WithMetadata("entity_id", entityID)
}

// ErrEntityAlreadyRegistered is returned when an initial key is registered twice
func ErrEntityAlreadyRegistered(entityID string) LCTError {
	return NewError(
		constants.ErrCodeEntityAlreadyRegistered,
		"The entity already has a key chain; use rotation instead.",
		fmt.Sprintf("entity %s already has keys registered", entityID),
	).WithMetadata("entity_id", entityID)
}

// ErrEntityNotRegistered is returned when rotating or revoking for an entity with no key chain
func ErrEntityNotRegistered(entityID string) LCTError {
	return NewError(
		constants.ErrCodeEntityNotRegistered,
		"The entity has no key chain; register an initial key first.",
		fmt.Sprintf("entity %s has no registered keys", entityID),
	).WithMetadata("entity_id", entityID)
}

// ErrKeyVersionNotFound creates a key_version_not_found error
func ErrKeyVersionNotFound(entityID string, version int) LCTError {
	return NewError(
		constants.ErrCodeKeyVersionNotFound,
		"The referenced key version does not exist.",
		fmt.Sprintf("key version %d not found for entity %s", version, entityID),
	).WithMetadata("entity_id", entityID).
		WithMetadata("version", version)
}

// ErrNoActiveKey is returned by signing when every version is revoked or expired
func ErrNoActiveKey(entityID string) LCTError {
	return NewError(
		constants.ErrCodeNoActiveKey,
		"The entity has no active key and cannot produce new signatures.",
		fmt.Sprintf("no active key for entity %s", entityID),
	).WithMetadata("entity_id", entityID)
}

// ErrMalformedSignature creates a malformed_signature error
func ErrMalformedSignature(reason string) LCTError {
	return NewError(
		constants.ErrCodeMalformedSignature,
		"The signature block is missing fields or cannot be decoded.",
		fmt.Sprintf("malformed signature: %s", reason),
	).WithMetadata("reason", reason)
}

// ErrKeyProvider wraps a failure of the private key provider
func ErrKeyProvider(op string, cause error) LCTError {
	return NewError(
		constants.ErrCodeKeyProviderFailure,
		"The key provider failed to complete the operation.",
		fmt.Sprintf("key provider %s failed", op),
	).WithMetadata("operation", op).
		WithCause(cause)
}

// ErrPersistence wraps a storage failure
func ErrPersistence(op string, cause error) LCTError {
	return NewError(
		constants.ErrCodePersistenceFailure,
		"The persistence layer failed to complete the operation.",
		fmt.Sprintf("persistence %s failed", op),
	).WithMetadata("operation", op).
		WithCause(cause)
}

// ErrInternal marks an unreachable or invariant-breaking condition
func ErrInternal(message string) LCTError {
	return NewError(
		constants.ErrCodeInternal,
		"An internal invariant was violated.",
		message,
	)
}

// ================================================================================
// Error Validation Utilities
// ================================================================================

// AsLCTError finds the first LCTError in err's chain
func AsLCTError(err error) (LCTError, bool) {
	var lctErr LCTError
	if stderrors.As(err, &lctErr) {
		return lctErr, true
	}
	return nil, false
}

// IsCode reports whether err's chain contains an LCTError with the given code
func IsCode(err error, code constants.ErrorCode) bool {
	lctErr, ok := AsLCTError(err)
	return ok && lctErr.Code() == code
}

// WrapError wraps a generic error into an LCTError
func WrapError(err error, code constants.ErrorCode, message string) LCTError {
	return NewError(code, err.Error(), message).WithCause(err)
}
