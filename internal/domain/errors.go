// Package domain holds the stable error taxonomy and cross-cutting
// contracts shared by the engine's feature packages. HTTP handlers map
// error codes to status codes; internal causes are logged, never exposed.
package domain

import (
	"errors"
	"fmt"
)

// Machine-readable error codes surfaced to callers.
const (
	CodeValidation          = "validation_error"
	CodeInsufficientBalance = "insufficient_balance"
	CodeIlliquidMarket      = "illiquid_market"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeAlreadyResolved     = "already_resolved"
	CodeInvalidState        = "invalid_state"
	CodeTransientStore      = "transient_store_error"
)

// Error is a caller-visible error with a stable code and human message.
// Err carries the internal cause for logging and errors.Is/As chains.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two domain errors by code, so sentinel-style comparisons
// like errors.Is(err, domain.ErrAlreadyResolved) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks. Construct richer instances with the
// helper constructors below.
var (
	ErrValidation          = &Error{Code: CodeValidation, Message: "invalid input"}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance, Message: "insufficient points balance"}
	ErrIlliquidMarket      = &Error{Code: CodeIlliquidMarket, Message: "market reserves are degenerate"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict            = &Error{Code: CodeConflict, Message: "conflicting concurrent update"}
	ErrAlreadyResolved     = &Error{Code: CodeAlreadyResolved, Message: "market already resolved"}
	ErrInvalidState        = &Error{Code: CodeInvalidState, Message: "operation not legal for current state"}
	ErrTransientStore      = &Error{Code: CodeTransientStore, Message: "store operation failed, safe to retry"}
)

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidStatef builds an invalid-state error with a formatted message.
func InvalidStatef(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error with a formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps an infrastructure failure. The cause is retained for
// logging; the caller only ever sees the stable code and message.
func Transient(err error) *Error {
	return &Error{Code: CodeTransientStore, Message: "store operation failed, safe to retry", Err: err}
}

// CodeOf extracts the machine-readable code from err, or
// CodeTransientStore when err carries no domain code.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeTransientStore
}

// MessageOf extracts the caller-safe message from err. Non-domain errors
// collapse to a generic message so internals never leak.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
