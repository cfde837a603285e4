// Package apperrors provides the typed error kinds used throughout the
// orchestrator. Internal components return *AppError instead of raw
// errors so the operator surface and Comms Service can translate
// failures into the protocol-level error kinds without string sniffing.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is one of the typed error kinds from the design's error model.
type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeInvalidArgument Code = "invalid_argument"
	CodeBusy            Code = "busy"
	CodeUnauthorized    Code = "unauthorized"
	CodeUnauthenticated Code = "unauthenticated"
	CodeForbidden       Code = "forbidden"
	CodeTimeout         Code = "timeout"
	CodeCanceled        Code = "canceled"
	CodeTransport       Code = "transport"
	CodeRemoteError     Code = "remote_error"
	CodeParseError      Code = "parse_error"
	CodeNotReady        Code = "not_ready"
	CodeInternal        Code = "internal"
)

// AppError is the typed error carried across component boundaries.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func newErr(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func NotFound(resource, id string) *AppError {
	return newErr(CodeNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

func InvalidArgument(msg string) *AppError { return newErr(CodeInvalidArgument, msg) }

func Busy(msg string) *AppError { return newErr(CodeBusy, msg) }

func Unauthorized(msg string) *AppError { return newErr(CodeUnauthorized, msg) }

func Unauthenticated(msg string) *AppError { return newErr(CodeUnauthenticated, msg) }

func Forbidden(msg string) *AppError { return newErr(CodeForbidden, msg) }

func Timeout(msg string) *AppError { return newErr(CodeTimeout, msg) }

func Canceled(msg string) *AppError { return newErr(CodeCanceled, msg) }

func Transport(msg string, err error) *AppError {
	return &AppError{Code: CodeTransport, Message: msg, Err: err}
}

func RemoteError(msg string) *AppError { return newErr(CodeRemoteError, msg) }

func ParseError(msg string) *AppError { return newErr(CodeParseError, msg) }

func NotReady(msg string) *AppError { return newErr(CodeNotReady, msg) }

func Internal(msg string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Err: err}
}

// Wrap preserves the code of an existing AppError, otherwise wraps as internal.
func Wrap(err error, msg string) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: fmt.Sprintf("%s: %s", msg, ae.Message), Err: err}
	}
	return Internal(msg, err)
}

// CodeOf extracts the Code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err is an *AppError with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
