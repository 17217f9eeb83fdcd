package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for storage operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument  ErrorCode = 1000
	ErrCodeNotFound         ErrorCode = 1001
	ErrCodePageFull         ErrorCode = 1002
	ErrCodePageSealed       ErrorCode = 1003
	ErrCodeUnregisteredType ErrorCode = 1004
	ErrCodeChecksumFailed   ErrorCode = 1005

	// Storage errors
	ErrCodeInternal          ErrorCode = 2000
	ErrCodeAllocationFailed  ErrorCode = 2001
	ErrCodeDiskFull          ErrorCode = 2002
	ErrCodeCorruptedData     ErrorCode = 2003
	ErrCodeResourceExhausted ErrorCode = 2004
	ErrCodeEngineFailed      ErrorCode = 2005
)

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts StorageError to gRPC status
func (e *StorageError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *StorageError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodePageSealed:
		return codes.InvalidArgument
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodePageFull, ErrCodeDiskFull, ErrCodeAllocationFailed, ErrCodeResourceExhausted:
		return codes.ResourceExhausted
	case ErrCodeUnregisteredType:
		return codes.FailedPrecondition
	case ErrCodeChecksumFailed, ErrCodeCorruptedData:
		return codes.DataLoss
	case ErrCodeEngineFailed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func NotFound(what, id string) *StorageError {
	return NewStorageError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", what, id), nil).
		WithDetail("kind", what).
		WithDetail("id", id)
}

func PageFull(pageNumber int32, need, remaining int) *StorageError {
	return NewStorageError(ErrCodePageFull,
		fmt.Sprintf("page %d full: need %d bytes, %d remaining", pageNumber, need, remaining), nil).
		WithDetail("page_number", pageNumber).
		WithDetail("need", need).
		WithDetail("remaining", remaining)
}

func PageSealed(pageNumber int32) *StorageError {
	return NewStorageError(ErrCodePageSealed, fmt.Sprintf("page %d already committed", pageNumber), nil).
		WithDetail("page_number", pageNumber)
}

func AllocationFailed(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeAllocationFailed, message, cause)
}

func DiskFull(usagePercent float64, availableBytes uint64) *StorageError {
	return NewStorageError(ErrCodeDiskFull, fmt.Sprintf("disk full: %.2f%% used, %d bytes available", usagePercent, availableBytes), nil).
		WithDetail("usage_percent", usagePercent).
		WithDetail("available_bytes", availableBytes)
}

func UnregisteredType(kind string) *StorageError {
	return NewStorageError(ErrCodeUnregisteredType, fmt.Sprintf("no converter registered for type %q", kind), nil).
		WithDetail("kind", kind)
}

func ChecksumFailed(expected, actual uint32) *StorageError {
	return NewStorageError(ErrCodeChecksumFailed, fmt.Sprintf("checksum validation failed: expected %d, got %d", expected, actual), nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func CorruptedData(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeCorruptedData, message, cause)
}

func InternalError(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternal, message, cause)
}

func EngineFailed(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeEngineFailed, message, cause)
}

func ResourceExhausted(resource string, current, limit int) *StorageError {
	return NewStorageError(ErrCodeResourceExhausted, fmt.Sprintf("%s exhausted: %d/%d", resource, current, limit), nil).
		WithDetail("resource", resource).
		WithDetail("current", current).
		WithDetail("limit", limit)
}

// IsStorageError checks if an error is, or wraps, a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error chain
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code anywhere in its chain
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
