package errors

import "errors"

// Credential and session errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Configuration and capacity errors.
var (
	ErrMissingSecret = errors.New("auth secret is not configured")
	ErrWeakSecret    = errors.New("auth secret is too short")
	ErrClientLimit   = errors.New("client registration limit reached")
)
