package services

import (
	"errors"
	"net/http"
)

// Error is a service failure carrying the HTTP status it should surface as.
// Handlers translate these into the standard response envelope; anything
// that is not an *Error becomes a 500.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func errValidation(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: message}
}

func errConflict(message string) *Error {
	return &Error{Status: http.StatusConflict, Message: message}
}

func errUnauthorized(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Message: message}
}

func errNotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Message: message}
}

func errUpstream(message string) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: message}
}

// StatusOf maps any error to the HTTP status it should be reported with.
func StatusOf(err error) int {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Status
	}
	return http.StatusInternalServerError
}
