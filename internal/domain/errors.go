package domain

import "errors"

var (
	ErrInvalidEvent      = errors.New("invalid message event")
	ErrInvalidTransition = errors.New("invalid status transition")
)
