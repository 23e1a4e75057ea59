// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package bare

import (
	"fmt"
	"net/http"
)

// Error codes of the bare protocol. Clients key their behavior off these
// strings, so they are part of the wire contract.
const (
	CodeMissingHeader     = "MISSING_BARE_HEADER"
	CodeInvalidHeader     = "INVALID_BARE_HEADER"
	CodeForbiddenHeader   = "FORBIDDEN_BARE_HEADER"
	CodeHostNotFound      = "HOST_NOT_FOUND"
	CodeConnectionRefused = "CONNECTION_REFUSED"
	CodeConnectionReset   = "CONNECTION_RESET"
	CodeConnectionTimeout = "CONNECTION_TIMEOUT"
	CodeConnectionLimit   = "CONNECTION_LIMIT_EXCEEDED"
	CodeUnknown           = "UNKNOWN"
)

// Error is a bare protocol error. It carries the HTTP status of the
// envelope response and the JSON body returned to the client.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%s)", e.Code, e.ID)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.ID, e.Message)
}

// ErrMissingHeader reports a required envelope header that was absent.
func ErrMissingHeader(name string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeMissingHeader,
		ID:      "request.headers." + name,
		Message: "Header was not specified.",
	}
}

// ErrInvalidHeader reports a malformed envelope header.
func ErrInvalidHeader(name, message string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeInvalidHeader,
		ID:      "request.headers." + name,
		Message: message,
	}
}

// ErrForbiddenHeader reports a header that may not appear in a pass or
// forward list.
func ErrForbiddenHeader(listHeader, name string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeForbiddenHeader,
		ID:      "request.headers." + listHeader,
		Message: fmt.Sprintf("A forbidden header was passed: %q", name),
	}
}

// ErrNotFound is returned for unknown sub-paths under the mount prefix.
func ErrNotFound() *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Code:    CodeUnknown,
		ID:      "error.NotFoundError",
		Message: "Not Found",
	}
}

// ErrTransport reports an outbound I/O failure with the given code.
func ErrTransport(code, message string) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    code,
		ID:      "request",
		Message: message,
	}
}
