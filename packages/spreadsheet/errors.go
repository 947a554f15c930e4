package spreadsheet

import (
	"errors"
	"fmt"
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates the caller passed a malformed address,
	// formula target or option.
	InvalidArgument AppErrorCode = 3

	// NotFound means a sheet, vertex or restore target does not exist.
	NotFound AppErrorCode = 5

	// AlreadyExists means a sheet with the same name is registered.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates the engine is not in a state that allows
	// the operation, e.g. mutating the graph during a recalculation pass.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means a position lies outside the addressable grid.
	OutOfRange AppErrorCode = 11

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

func (c AppErrorCode) String() string {
	switch c {
	case OK:
		return "ok"
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case FailedPrecondition:
		return "failed_precondition"
	case OutOfRange:
		return "out_of_range"
	case Internal:
		return "internal"
	}
	return "unknown"
}

// AppError represents contract violations raised by graph and engine
// mutation. Formula failures are never AppErrors, they are error cell
// values.
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// Is matches another AppError with the same code, so sentinels like
// ErrSheetNotFound work with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

var (
	ErrSheetNotFound = &AppError{Code: NotFound}
	ErrSheetExists   = &AppError{Code: AlreadyExists}
	ErrCalculating   = &AppError{Code: FailedPrecondition}
)

func sheetNotFound(name string) *AppError {
	return NewApplicationError(NotFound, fmt.Sprintf("sheet %q not found", name))
}

func sheetExists(name string) *AppError {
	return NewApplicationError(AlreadyExists, fmt.Sprintf("sheet %q already exists", name))
}

// CodeOf extracts the AppErrorCode from err, or Unknown when err is not an
// AppError
func CodeOf(err error) AppErrorCode {
	if err == nil {
		return OK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}
