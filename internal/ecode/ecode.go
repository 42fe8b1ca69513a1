// Package ecode defines the {code, message} error record shared by the
// session manager, the post catalog and the backends they talk to.
//
// Callers tell errors apart by code, not by type:
//
//	if ecode.Is(err, ecode.PermissionDenied) { ... }
package ecode

import (
	"errors"
	"fmt"
	"net/http"
)

// Local validation codes, raised before any remote call.
const (
	EmptyInput    = "empty-input"
	EmptyEmail    = "empty-email"
	EmptyPassword = "empty-password"
	IDEmpty       = "id-empty"
	InvalidCursor = "invalid-cursor"
)

// Authorization codes.
const (
	LoginFirst       = "login-first"
	PermissionDenied = "permission-denied"
)

// Document store codes.
const (
	NotFound        = "not-found"
	InvalidArgument = "invalid-argument"
)

// Identity backend codes.
const (
	EmailAlreadyInUse = "auth/email-already-in-use"
	InvalidEmail      = "auth/invalid-email"
	WeakPassword      = "auth/weak-password"
	UserNotFound      = "auth/user-not-found"
	WrongPassword     = "auth/wrong-password"
	InvalidToken      = "auth/invalid-token"
)

// Error is the plain {code, message} record every failure is reported as.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New returns an error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Code returns the code carried by err, or "" if err has none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// IsError reports whether err is a coded error.
func IsError(err error) bool {
	return Code(err) != ""
}

// ToHTTPStatus maps a code to the status the HTTP surface replies with.
func ToHTTPStatus(code string) int {
	switch code {
	case EmptyInput, EmptyEmail, EmptyPassword, IDEmpty, InvalidCursor,
		InvalidArgument, InvalidEmail, WeakPassword:
		return http.StatusBadRequest
	case LoginFirst, UserNotFound, WrongPassword, InvalidToken:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case EmailAlreadyInUse:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
