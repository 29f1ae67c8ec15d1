package srvcerror

import (
	"errors"
	"net/http"
)

// Error is a condition meant to be shown to the caller. The message is
// already localized, the debug error is only logged.
type Error struct {
	errorCode  string
	msgToUser  string // public
	dbgInfoErr error  // private, for debugging

	httpStatus int // optional, for HTTP responses
}

func (e *Error) Error() string {
	return e.msgToUser
}

func (e *Error) ErrorCode() string {
	return e.errorCode
}

func (e *Error) DebugInfo() error {
	return e.dbgInfoErr
}

func (e *Error) SetDebug(err error) *Error {
	e.dbgInfoErr = err
	return e
}

// Unwrap exposes the debug error so callers can match on the cause.
func (e *Error) Unwrap() error {
	return e.dbgInfoErr
}

// Is matches any other *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.errorCode == e.errorCode
}

func (e *Error) HttpStatusCode() int {
	if e.httpStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.httpStatus
}

func (e *Error) SetHttpStatusCode(code int) *Error {
	e.httpStatus = code
	return e
}

func New(errorCode string, msgToUser string) *Error {
	return &Error{
		errorCode: errorCode,
		msgToUser: msgToUser,
	}
}

// HasCode reports whether err wraps a service error with the given code.
func HasCode(err error, code string) bool {
	var srvcErr *Error
	if !errors.As(err, &srvcErr) {
		return false
	}
	return srvcErr.errorCode == code
}

const ErrCodeInternalServerError = "internal_server_error"

func ErrInternalSE() *Error {
	return New(
		ErrCodeInternalServerError,
		"internal server error",
	).SetHttpStatusCode(http.StatusInternalServerError)
}

const ErrCodeNotFound = "not_found"

func ErrNotFound(what string) *Error {
	return New(
		ErrCodeNotFound,
		what+" not found",
	).SetHttpStatusCode(http.StatusNotFound)
}

const ErrCodeInvalidRequest = "invalid_request"

func ErrInvalidRequest(msg string) *Error {
	return New(
		ErrCodeInvalidRequest,
		msg,
	).SetHttpStatusCode(http.StatusBadRequest)
}

const ErrCodeUnauthorized = "unauthorized"

func ErrUnauthorized() *Error {
	return New(
		ErrCodeUnauthorized,
		"unauthorized",
	).SetHttpStatusCode(http.StatusUnauthorized)
}

const ErrCodeForbidden = "forbidden"

func ErrForbidden() *Error {
	return New(
		ErrCodeForbidden,
		"forbidden",
	).SetHttpStatusCode(http.StatusForbidden)
}
