package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNotFound         = "NOT_FOUND"
	CodeBadRequest       = "BAD_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL_ERROR"
	CodeTooManyRequests  = "TOO_MANY_REQUESTS"
	CodeTransientNetwork = "TRANSIENT_NETWORK"
	CodeMissingProfile   = "MISSING_PROFILE"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// TransientNetwork wraps a failed subscribe, send or batch call. These are
// logged and never block the UI; the caller keeps its last known state.
func TransientNetwork(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeTransientNetwork,
		Message: fmt.Sprintf("%s failed, try again", operation),
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// MissingProfile is returned when a peer profile lookup finds nothing.
// A window for that peer is not opened.
func MissingProfile(userID string, err error) *AppError {
	return &AppError{
		Code:    CodeMissingProfile,
		Message: fmt.Sprintf("profile for %s not found", userID),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func TooManyRequests(message string, err error) *AppError {
	return &AppError{
		Code:    CodeTooManyRequests,
		Message: message,
		Status:  http.StatusTooManyRequests,
		Err:     err,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
