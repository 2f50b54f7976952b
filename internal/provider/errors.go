package provider

import "errors"

// Code discriminates identity-provider failures so callers can branch on the
// class of error without string matching.
type Code string

const (
	CodeWrongPassword       Code = "wrong-password"
	CodeUserNotFound        Code = "user-not-found"
	CodeRequiresRecentLogin Code = "requires-recent-login"
	CodeEmailInUse          Code = "email-already-in-use"
	CodeInvalidEmail        Code = "invalid-email"
	CodeWeakPassword        Code = "weak-password"

	// OAuth interaction failures.
	CodePopupClosed    Code = "popup-closed-by-user"
	CodeMultiplePopups Code = "cancelled-popup-request"
	CodeAccountExists  Code = "account-exists-with-different-credential"
)

// Error is a coded identity-provider error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a coded error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the provider code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
