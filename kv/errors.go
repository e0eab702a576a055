package kv

import "errors"

var (
	// ErrNotReady is returned when a new connection does not answer PING in time.
	ErrNotReady = errors.New("kv store did not become ready")
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("kv client closed")
	// ErrInvalidConfig is returned for unusable connection settings.
	ErrInvalidConfig = errors.New("invalid kv configuration")
)
