package documents

import "errors"

var (
	ErrNotFound     = errors.New("document not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when a conditional update finds the document in
	// an unexpected status.
	ErrConflict = errors.New("document status conflict")
	// ErrTerminal is returned when processing is requested for a finished document.
	ErrTerminal = errors.New("document already finished")
)
