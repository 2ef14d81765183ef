package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents malformed input rejected before any mutation
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents an absent (id, owner_id) pair
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeService represents store or embedder failures during a valid operation
	ErrorTypeService ErrorType = "service"
	// ErrorTypeLockBusy represents a job lock held elsewhere
	ErrorTypeLockBusy ErrorType = "lock_busy"
	// ErrorTypeConnection represents an unreachable store at startup or health-check
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// Response codes reported to callers of the produced surface.
const (
	CodeValidation = "memory_validation_error"
	CodeNotFound   = "memory_not_found"
	CodeService    = "memory_service_error"
	CodeConnection = "memory_connection_error"
	CodeLockBusy   = "memory_lock_busy"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrorType reports the category; promoted to every typed error below.
func (e *BaseError) ErrorType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ErrValidation is returned when an input field fails validation
type ErrValidation struct {
	*BaseError
	Field  string
	Reason string
}

func NewValidation(field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Not Found Errors

// ErrNotFound is returned when a node is absent for the given owner
type ErrNotFound struct {
	*BaseError
	NodeID  string
	OwnerID string
}

func NewNotFound(nodeID, ownerID string) *ErrNotFound {
	return &ErrNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("node %s not found", nodeID), nil),
		NodeID:    nodeID,
		OwnerID:   ownerID,
	}
}

// Service Errors

// ErrService is returned when the store or embedder fails during a valid operation
type ErrService struct {
	*BaseError
	Operation string
}

func NewService(operation string, err error) *ErrService {
	return &ErrService{
		BaseError: NewBaseError(ErrorTypeService, fmt.Sprintf("%s failed", operation), err),
		Operation: operation,
	}
}

// ErrLinking is returned when a fact was persisted but auto-linking failed.
// The node is not rolled back.
type ErrLinking struct {
	*BaseError
	NodeID string
}

func NewLinking(nodeID string, err error) *ErrLinking {
	return &ErrLinking{
		BaseError: NewBaseError(ErrorTypeService, fmt.Sprintf("auto-linking failed for node %s", nodeID), err),
		NodeID:    nodeID,
	}
}

// Job Errors

// ErrLockBusy is returned when a job lock is held by another runner
type ErrLockBusy struct {
	*BaseError
	Key string
}

func NewLockBusy(key string) *ErrLockBusy {
	return &ErrLockBusy{
		BaseError: NewBaseError(ErrorTypeLockBusy, fmt.Sprintf("lock busy: %s", key), nil),
		Key:       key,
	}
}

// Connection Errors

// ErrConnection is returned when the store cannot be reached
type ErrConnection struct {
	*BaseError
	Target string
}

func NewConnection(target string, err error) *ErrConnection {
	return &ErrConnection{
		BaseError: NewBaseError(ErrorTypeConnection, fmt.Sprintf("failed to connect to %s", target), err),
		Target:    target,
	}
}

// Context Errors

// ErrContextTimeout is returned when context times out
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Helper functions

type typed interface {
	ErrorType() ErrorType
}

// TypeOf returns the category of the outermost typed error in the chain.
func TypeOf(err error) (ErrorType, bool) {
	var t typed
	if stderrors.As(err, &t) {
		return t.ErrorType(), true
	}
	return "", false
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	t, ok := TypeOf(err)
	if !ok {
		// Untyped errors come from drivers; give them another attempt
		return true
	}
	switch t {
	case ErrorTypeService, ErrorTypeConnection, ErrorTypeContext:
		return true
	default:
		return false
	}
}

// Code maps an error onto the response code reported to callers.
func Code(err error) string {
	t, _ := TypeOf(err)
	switch t {
	case ErrorTypeValidation:
		return CodeValidation
	case ErrorTypeNotFound:
		return CodeNotFound
	case ErrorTypeConnection:
		return CodeConnection
	case ErrorTypeLockBusy:
		return CodeLockBusy
	default:
		return CodeService
	}
}
