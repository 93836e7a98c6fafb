package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, caller-facing error classification.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindForbidden          Kind = "FORBIDDEN"
	KindBlocked            Kind = "BLOCKED"
	KindAlreadyDeleted     Kind = "ALREADY_DELETED"
	KindEmptyMessage       Kind = "EMPTY_MESSAGE"
	KindInvalidCounterpart Kind = "INVALID_COUNTERPART"
	KindBadRequest         Kind = "BAD_REQUEST"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindTransient          Kind = "TRANSIENT"
)

// AppError carries a Kind, a human readable message and the HTTP status it maps to.
type AppError struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Status: statusFor(kind), Err: err}
}

func NotFound(resource string) *AppError {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource), nil)
}

func Forbidden(message string) *AppError {
	return New(KindForbidden, message, nil)
}

func Blocked() *AppError {
	return New(KindBlocked, "recipient has blocked this conversation", nil)
}

func AlreadyDeleted() *AppError {
	return New(KindAlreadyDeleted, "message was deleted", nil)
}

func EmptyMessage() *AppError {
	return New(KindEmptyMessage, "message must have a body or an attachment", nil)
}

func InvalidCounterpart(message string) *AppError {
	return New(KindInvalidCounterpart, message, nil)
}

func BadRequest(message string, err error) *AppError {
	return New(KindBadRequest, message, err)
}

func Unauthorized(message string) *AppError {
	return New(KindUnauthorized, message, nil)
}

// Transient wraps a storage or infrastructure failure that callers may retry.
func Transient(err error) *AppError {
	return New(KindTransient, "temporary failure, try again", err)
}

// Is reports whether err is an AppError of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of err, or KindTransient for errors outside the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindTransient
}

// From converts any error into an AppError.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Transient(err)
}

func statusFor(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden, KindBlocked:
		return http.StatusForbidden
	case KindAlreadyDeleted:
		return http.StatusConflict
	case KindEmptyMessage, KindInvalidCounterpart, KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}
