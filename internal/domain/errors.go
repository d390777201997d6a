package domain

import "errors"

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrCompletionFailed       = errors.New("completion failed")
)
