// Package apperr holds the sentinel errors shared across roster packages.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrQueueFull    = errors.New("queue full")
	ErrClosed       = errors.New("closed")
)
