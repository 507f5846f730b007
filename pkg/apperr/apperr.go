// Package apperr defines the error kinds shared by the services and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidAction = errors.New("invalid action")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrRateLimited   = errors.New("rate limited")
)

var kinds = []struct {
	err    error
	kind   string
	status int
}{
	{ErrInvalidAction, "invalid-action", http.StatusBadRequest},
	{ErrInvalidInput, "invalid-input", http.StatusBadRequest},
	{ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
	{ErrForbidden, "forbidden", http.StatusForbidden},
	{ErrNotFound, "not-found", http.StatusNotFound},
	{ErrConflict, "conflict", http.StatusConflict},
	{ErrRateLimited, "rate-limited", http.StatusTooManyRequests},
}

// Kind returns the machine-readable kind of err, or "internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// Status maps err to an HTTP status code; unknown errors are 500.
func Status(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}
