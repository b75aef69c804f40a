package chat

import "errors"

var (
	ErrNotFound     = errors.New("thread not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
)
